// Package capturetest builds PPTP frames and MPPE traffic for tests.
package capturetest

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"chapcrack-go/pkg/mschap"
)

// MAC returns the locally administered hardware address used for addr in built frames.
func MAC(addr netip.Addr) net.HardwareAddr {
	a := addr.As4()
	return net.HardwareAddr{0x02, 0x00, a[0], a[1], a[2], a[3]}
}

// ChapChallenge returns a CHAP Challenge message.
func ChapChallenge(id uint8, challenge []byte, name string) []byte {
	return chap(1, id, append([]byte{byte(len(challenge))}, append(append([]byte{}, challenge...), name...)...))
}

// ChapResponse returns an MS-CHAPv2 Response message.
func ChapResponse(id uint8, peerChallenge, ntResponse []byte, name string) []byte {
	value := make([]byte, 0, 50+len(name))
	value = append(value, 49)
	value = append(value, peerChallenge...)
	value = append(value, make([]byte, 8)...)
	value = append(value, ntResponse...)
	value = append(value, 0) // flags
	value = append(value, name...)
	return chap(2, id, value)
}

// ChapSuccess returns a CHAP Success message.
func ChapSuccess(id uint8, message string) []byte {
	return chap(3, id, []byte(message))
}

func chap(code, id uint8, body []byte) []byte {
	b := make([]byte, 4, 4+len(body))
	b[0], b[1] = code, id
	binary.BigEndian.PutUint16(b[2:], uint16(4+len(body)))
	return append(b, body...)
}

// CcpConfigure returns a CCP message carrying the MPPE option with the given supported bits.
func CcpConfigure(code, id uint8, bits [4]byte) []byte {
	b := []byte{code, id, 0, 10, 18, 6}
	return append(b, bits[:]...)
}

// MppeBits returns the supported bits for stateless 128-bit MPPE.
func MppeBits(stateless, bits128 bool) [4]byte {
	var b [4]byte
	if stateless {
		b[0] = 0x01
	}
	if bits128 {
		b[3] = 0x40
	}
	return b
}

// Mppe returns an MPPE message with the given header fields.
func Mppe(counter uint16, flushed bool, payload []byte) []byte {
	b0 := byte(0x10) | byte(counter>>8)&0x0f
	if flushed {
		b0 |= 0x80
	}
	return append([]byte{b0, byte(counter)}, payload...)
}

// Frame wraps a PPP payload into Ethernet/IPv4/GRE with the 0xff03 prefix.
func Frame(src, dst netip.Addr, proto uint16, payload []byte) []byte {
	ppp := []byte{0xff, 0x03, byte(proto >> 8), byte(proto)}
	ppp = append(ppp, payload...)
	return greFrame(src, dst, ppp)
}

// FrameRaw wraps already framed PPP bytes into Ethernet/IPv4/GRE.
func FrameRaw(src, dst netip.Addr, ppp []byte) []byte {
	return greFrame(src, dst, ppp)
}

func greFrame(src, dst netip.Addr, ppp []byte) []byte {
	gre := make([]byte, 12, 12+len(ppp))
	gre[0], gre[1] = 0x30, 0x01 // key and sequence present, version 1
	binary.BigEndian.PutUint16(gre[2:], uint16(layers.EthernetTypePPP))
	binary.BigEndian.PutUint16(gre[4:], uint16(len(ppp)))
	binary.BigEndian.PutUint16(gre[6:], 0x4000)
	binary.BigEndian.PutUint32(gre[8:], 1)
	gre = append(gre, ppp...)

	eth := &layers.Ethernet{SrcMAC: MAC(src), DstMAC: MAC(dst), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolGRE,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	return serialize(eth, ip, gopacket.Payload(gre))
}

// InnerIPv4 returns a PPP IPv4 datagram (0x0021 protocol prefix included) carrying a UDP payload.
func InnerIPv4(src, dst netip.Addr, payload []byte) []byte {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return append([]byte{0x00, 0x21}, serialize(ip, udp, gopacket.Payload(payload))...)
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Encryptor produces stateless MPPE ciphertext for one direction.
type Encryptor struct {
	start   []byte
	key     []byte
	counter uint16
}

// NewEncryptor starts at the initial session key, which sits at counter 4095.
func NewEncryptor(startKey []byte) *Encryptor {
	return &Encryptor{start: startKey, key: mschap.InitialSessionKey(startKey), counter: 4095}
}

// Encrypt ratchets forward to counter and encrypts plaintext with that key.
func (e *Encryptor) Encrypt(counter uint16, plaintext []byte) []byte {
	for e.counter != counter {
		e.key = mschap.NextSessionKey(e.start, e.key)
		e.counter = (e.counter + 1) % 4096
	}
	return mschap.RC4(e.key, plaintext)
}

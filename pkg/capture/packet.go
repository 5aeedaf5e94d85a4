// Package capture decodes PPTP traffic (Ethernet/IPv4/GRE/PPP) from capture files into
// typed CHAP, CCP and MPPE packets, and writes decrypted frames back out.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// CHAP message codes
const (
	ChapCodeChallenge = 1
	ChapCodeResponse  = 2
	ChapCodeSuccess   = 3
	ChapCodeFailure   = 4
)

// CCP message codes
const (
	CcpCodeConfigureRequest = 1
	CcpCodeConfigureAck     = 2
	CcpCodeConfigureNak     = 3
	CcpCodeConfigureReject  = 4
)

const (
	ccpOptionMPPE = 18

	mppeSupported128Bit = 0x40
	mppeSupportedH      = 0x01

	chapResponseValueSize = 49

	mppeFlagFlushed   = 0x80
	mppeFlagEncrypted = 0x10
)

var errShortPacket = errors.New("packet too short")

// Packet is one classified PPP control or data message.
type Packet interface {
	Src() netip.Addr
	Dst() netip.Addr
	isPacket()
}

// Frame is a captured Ethernet frame with its capture metadata.
type Frame struct {
	CaptureInfo gopacket.CaptureInfo
	Ethernet    layers.Ethernet
	Data        []byte
}

type addresses struct {
	src, dst netip.Addr
}

// Src returns the IPv4 source address of the carrying frame.
func (a addresses) Src() netip.Addr { return a.src }

// Dst returns the IPv4 destination address of the carrying frame.
func (a addresses) Dst() netip.Addr { return a.dst }

// ChapPacket is one MS-CHAPv2 message.
type ChapPacket struct {
	addresses
	data []byte
}

func (*ChapPacket) isPacket() {}

// ParseChap validates a CHAP message. data starts at the CHAP code byte.
func ParseChap(data []byte, src, dst netip.Addr) (*ChapPacket, error) {
	if len(data) < 4 {
		return nil, errShortPacket
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < 4 || length > len(data) {
		return nil, fmt.Errorf("invalid CHAP length %d for %d bytes", length, len(data))
	}
	data = data[:length]

	switch data[0] {
	case ChapCodeChallenge:
		if len(data) < 5 || len(data) < 5+int(data[4]) {
			return nil, fmt.Errorf("CHAP challenge too short: %d bytes", len(data))
		}
	case ChapCodeResponse:
		if len(data) < 5 || data[4] != chapResponseValueSize || len(data) < 5+chapResponseValueSize {
			return nil, fmt.Errorf("CHAP response malformed: %d bytes", len(data))
		}
	case ChapCodeSuccess, ChapCodeFailure:
	default:
		return nil, fmt.Errorf("unknown CHAP code %d", data[0])
	}

	return &ChapPacket{addresses: addresses{src: src, dst: dst}, data: data}, nil
}

// Code returns the CHAP code.
func (p *ChapPacket) Code() uint8 { return p.data[0] }

// Identifier returns the CHAP identifier.
func (p *ChapPacket) Identifier() uint8 { return p.data[1] }

// Length returns the declared CHAP length.
func (p *ChapPacket) Length() int { return int(binary.BigEndian.Uint16(p.data[2:4])) }

func (p *ChapPacket) valueSize() int { return int(p.data[4]) }

// Challenge returns the authenticator challenge of a Challenge message.
func (p *ChapPacket) Challenge() []byte {
	if p.Code() != ChapCodeChallenge {
		return nil
	}
	return p.data[5 : 5+p.valueSize()]
}

// PeerChallenge returns the 16-byte peer challenge of a Response message.
func (p *ChapPacket) PeerChallenge() []byte {
	if p.Code() != ChapCodeResponse {
		return nil
	}
	return p.data[5:21]
}

// NtResponse returns the 24-byte NT-Response of a Response message.
func (p *ChapPacket) NtResponse() []byte {
	if p.Code() != ChapCodeResponse {
		return nil
	}
	return p.data[29:53]
}

// Name returns the name field of a Challenge (server name) or Response (username).
func (p *ChapPacket) Name() string {
	switch p.Code() {
	case ChapCodeChallenge, ChapCodeResponse:
		return string(p.data[5+p.valueSize():])
	}
	return ""
}

// Message returns the message of a Success or Failure, e.g. "S=<hex> M=...".
func (p *ChapPacket) Message() string {
	switch p.Code() {
	case ChapCodeSuccess, ChapCodeFailure:
		return string(p.data[4:])
	}
	return ""
}

// AuthenticatorResponse returns the "S=<hex>" authenticator response of a Success message.
func (p *ChapPacket) AuthenticatorResponse() string {
	if p.Code() != ChapCodeSuccess {
		return ""
	}
	msg := p.Message()
	if !strings.HasPrefix(msg, "S=") {
		return ""
	}
	if i := strings.IndexByte(msg, ' '); i > 0 {
		return msg[:i]
	}
	return msg
}

// CcpPacket is one Compression Control Protocol message.
type CcpPacket struct {
	addresses
	code    uint8
	options map[uint8][]byte
}

func (*CcpPacket) isPacket() {}

// ParseCcp validates a CCP message. data starts at the CCP code byte.
func ParseCcp(data []byte, src, dst netip.Addr) (*CcpPacket, error) {
	if len(data) < 4 {
		return nil, errShortPacket
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < 4 || length > len(data) {
		return nil, fmt.Errorf("invalid CCP length %d for %d bytes", length, len(data))
	}
	p := &CcpPacket{addresses: addresses{src: src, dst: dst}, code: data[0]}

	switch p.code {
	case CcpCodeConfigureRequest, CcpCodeConfigureAck, CcpCodeConfigureNak, CcpCodeConfigureReject:
		opts, err := parseOptions(data[4:length])
		if err != nil {
			return nil, err
		}
		p.options = opts
	}
	return p, nil
}

func parseOptions(b []byte) (map[uint8][]byte, error) {
	ret := map[uint8][]byte{}

	for len(b) > 0 {
		if len(b) < 2 {
			return nil, errors.New("trailing garbage at end of packet")
		}
		optionType, optionLen := b[0], int(b[1])
		if optionLen < 2 {
			return nil, fmt.Errorf("option length %d for option %d is too short", optionLen, optionType)
		}
		if optionLen > len(b) {
			return nil, fmt.Errorf("option length %d for option %d overflows packet", optionLen, optionType)
		}
		ret[optionType] = b[2:optionLen]
		b = b[optionLen:]
	}

	return ret, nil
}

// Code returns the CCP code.
func (p *CcpPacket) Code() uint8 { return p.code }

func (p *CcpPacket) mppeBits() []byte {
	bits := p.options[ccpOptionMPPE]
	if len(bits) != 4 {
		return nil
	}
	return bits
}

// IsStateless reports whether the MPPE option requests stateless (history-less) mode.
func (p *CcpPacket) IsStateless() bool {
	bits := p.mppeBits()
	return bits != nil && bits[0]&mppeSupportedH != 0
}

// Is128Bit reports whether the MPPE option selects 128-bit keys only.
func (p *CcpPacket) Is128Bit() bool {
	bits := p.mppeBits()
	return bits != nil && bits[3] == mppeSupported128Bit
}

// MppePacket is one MPPE-encrypted PPP data message.
type MppePacket struct {
	addresses
	header  [2]byte
	payload []byte
	frame   *Frame
}

func (*MppePacket) isPacket() {}

// ParseMppe validates an MPPE message. data starts at the MPPE header.
func ParseMppe(data []byte, src, dst netip.Addr, frame *Frame) (*MppePacket, error) {
	if len(data) < 2 {
		return nil, errShortPacket
	}
	return &MppePacket{
		addresses: addresses{src: src, dst: dst},
		header:    [2]byte{data[0], data[1]},
		payload:   data[2:],
		frame:     frame,
	}, nil
}

// IsFlushed reports the A (flushed) bit.
func (p *MppePacket) IsFlushed() bool { return p.header[0]&mppeFlagFlushed != 0 }

// IsEncrypted reports the D (encrypted) bit.
func (p *MppePacket) IsEncrypted() bool { return p.header[0]&mppeFlagEncrypted != 0 }

// Counter returns the 12-bit coherency count.
func (p *MppePacket) Counter() uint16 {
	return uint16(p.header[0]&0x0f)<<8 | uint16(p.header[1])
}

// Payload returns the encrypted bytes following the MPPE header.
func (p *MppePacket) Payload() []byte { return p.payload }

// Frame returns the Ethernet frame that carried the packet.
func (p *MppePacket) Frame() *Frame { return p.frame }

package mppe

import (
	"net/netip"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"chapcrack-go/pkg/capture"
	"chapcrack-go/pkg/capture/capturetest"
	"chapcrack-go/pkg/mschap"
)

var (
	testServer = netip.MustParseAddr("172.16.0.1")
	testClient = netip.MustParseAddr("172.16.0.77")
	testNtResp = []byte{
		0x82, 0x30, 0x9e, 0xcd, 0x8d, 0x70, 0x8b, 0x5e,
		0xa0, 0x8f, 0xaa, 0x39, 0x81, 0xcd, 0x83, 0x54,
		0x42, 0x33, 0x11, 0x4a, 0x3d, 0x85, 0xd6, 0xdf,
	}
)

type session struct {
	ntHash   []byte
	toServer *capturetest.Encryptor
	toClient *capturetest.Encryptor
}

func newSession(t *testing.T, password string) session {
	t.Helper()
	ntHash, err := mschap.NtPasswordHash(password)
	require.NoError(t, err)
	mk := mschap.MasterKey(mschap.HashNtPasswordHash(ntHash), testNtResp)
	return session{
		ntHash:   ntHash,
		toServer: capturetest.NewEncryptor(mschap.AsymmetricStartKey(mk, true)),
		toClient: capturetest.NewEncryptor(mschap.AsymmetricStartKey(mk, false)),
	}
}

func (s session) manager(t *testing.T, opts ...Option) *StateManager {
	t.Helper()
	m, err := New(s.ntHash, testNtResp, testClient, testServer, opts...)
	require.NoError(t, err)
	return m
}

func mppePacket(t *testing.T, src, dst netip.Addr, mppe []byte) *capture.MppePacket {
	t.Helper()
	data := capturetest.Frame(src, dst, capture.ProtocolMPPE, mppe)
	p, ok := capture.Classify(data, gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0)})
	require.True(t, ok)
	return p.(*capture.MppePacket)
}

// clientPacket encrypts a UDP datagram carrying body from client to server at counter.
func (s session) clientPacket(t *testing.T, counter uint16, body string) *capture.MppePacket {
	t.Helper()
	inner := capturetest.InnerIPv4(testClient, testServer, []byte(body))
	return mppePacket(t, testClient, testServer, capturetest.Mppe(counter, true, s.toServer.Encrypt(counter, inner)))
}

func (s session) serverPacket(t *testing.T, counter uint16, body string) *capture.MppePacket {
	t.Helper()
	inner := capturetest.InnerIPv4(testServer, testClient, []byte(body))
	return mppePacket(t, testServer, testClient, capturetest.Mppe(counter, true, s.toClient.Encrypt(counter, inner)))
}

// udpBody decodes a rebuilt frame and returns its UDP payload.
func udpBody(t *testing.T, f *capture.Frame) string {
	t.Helper()
	require.NotNil(t, f)
	pkt := gopacket.NewPacket(f.Data, layers.LayerTypeEthernet, gopacket.Default)
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok, "no UDP layer in %x", f.Data)
	return string(udp.Payload)
}

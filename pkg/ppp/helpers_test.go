package ppp

import (
	"bytes"
	"net/netip"
	"sync"
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
	testServer = netip.MustParseAddr("10.10.0.1")
	testClient = netip.MustParseAddr("10.10.0.2")
)

// fakeRecorder counts events by name.
type fakeRecorder struct {
	mu     sync.Mutex
	events map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{events: map[string]int{}}
}

func (r *fakeRecorder) add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[key]++
}

func (r *fakeRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[key]
}

func (r *fakeRecorder) Packet(kind string) { r.add("packet/" + kind) }
func (r *fakeRecorder) Handshake(verified bool) {
	if verified {
		r.add("handshake/verified")
		return
	}
	r.add("handshake/unverified")
}
func (r *fakeRecorder) MppePacket(direction, result string) { r.add("mppe/" + direction + "/" + result) }
func (r *fakeRecorder) K3Crack(time.Duration, bool)         { r.add("k3") }
func (r *fakeRecorder) WriteTextfile(string) error          { return nil }

// pptpSession produces the packets of one PPTP session between server and client.
type pptpSession struct {
	t              *testing.T
	server, client netip.Addr
	username       string
	ntHash         []byte
	ntResponse     []byte
	auth, peer     []byte
	toServer       *capturetest.Encryptor
	toClient       *capturetest.Encryptor
}

func newPPTPSession(t *testing.T, server, client netip.Addr, username, password string) *pptpSession {
	t.Helper()
	ntHash, err := mschap.NtPasswordHash(password)
	require.NoError(t, err)

	s := &pptpSession{
		t:        t,
		server:   server,
		client:   client,
		username: username,
		ntHash:   ntHash,
		auth:     bytes.Repeat([]byte{client.As4()[3]}, 16),
		peer:     bytes.Repeat([]byte{0x5a}, 16),
	}
	s.ntResponse = mschap.ChallengeResponse(mschap.ChallengeHash(s.peer, s.auth, username), ntHash)

	mk := mschap.MasterKey(mschap.HashNtPasswordHash(ntHash), s.ntResponse)
	s.toServer = capturetest.NewEncryptor(mschap.AsymmetricStartKey(mk, true))
	s.toClient = capturetest.NewEncryptor(mschap.AsymmetricStartKey(mk, false))
	return s
}

func (s *pptpSession) classify(src, dst netip.Addr, proto uint16, payload []byte) capture.Packet {
	s.t.Helper()
	p, ok := capture.Classify(capturetest.Frame(src, dst, proto, payload), gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0)})
	require.True(s.t, ok)
	return p
}

func (s *pptpSession) handshake() []capture.Packet {
	return []capture.Packet{
		s.classify(s.server, s.client, capture.ProtocolCHAP, capturetest.ChapChallenge(1, s.auth, "pptpd")),
		s.classify(s.client, s.server, capture.ProtocolCHAP, capturetest.ChapResponse(1, s.peer, s.ntResponse, s.username)),
		s.classify(s.server, s.client, capture.ProtocolCHAP, capturetest.ChapSuccess(1, "S=00 M=ok")),
	}
}

func (s *pptpSession) ccp(bits [4]byte) []capture.Packet {
	return []capture.Packet{
		s.classify(s.client, s.server, capture.ProtocolCCP, capturetest.CcpConfigure(capture.CcpCodeConfigureRequest, 1, bits)),
		s.classify(s.server, s.client, capture.ProtocolCCP, capturetest.CcpConfigure(capture.CcpCodeConfigureAck, 1, bits)),
	}
}

func (s *pptpSession) fromClient(counter uint16, body string) capture.Packet {
	inner := capturetest.InnerIPv4(s.client, s.server, []byte(body))
	return s.classify(s.client, s.server, capture.ProtocolMPPE, capturetest.Mppe(counter, true, s.toServer.Encrypt(counter, inner)))
}

func (s *pptpSession) fromServer(counter uint16, body string) capture.Packet {
	inner := capturetest.InnerIPv4(s.server, s.client, []byte(body))
	return s.classify(s.server, s.client, capture.ProtocolMPPE, capturetest.Mppe(counter, true, s.toClient.Encrypt(counter, inner)))
}

func udpBody(t *testing.T, f *capture.Frame) string {
	t.Helper()
	require.NotNil(t, f)
	pkt := gopacket.NewPacket(f.Data, layers.LayerTypeEthernet, gopacket.Default)
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	return string(udp.Payload)
}

package main

import (
	"bytes"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/require"

	"chapcrack-go/pkg/capture"
	"chapcrack-go/pkg/capture/capturetest"
	"chapcrack-go/pkg/mschap"
)

var (
	testServer = netip.MustParseAddr("203.0.113.1")
	testClient = netip.MustParseAddr("198.51.100.7")
	testAuth   = bytes.Repeat([]byte{0x3c}, 16)
	testPeer   = bytes.Repeat([]byte{0xc3}, 16)
)

// writeSessionCapture writes a capture holding one authenticated PPTP session with
// n MPPE packets in each direction, plus an unrelated UDP frame.
func writeSessionCapture(t *testing.T, username, password string, n int) string {
	t.Helper()
	ntHash, err := mschap.NtPasswordHash(password)
	require.NoError(t, err)
	ntResp := mschap.ChallengeResponse(mschap.ChallengeHash(testPeer, testAuth, username), ntHash)
	mk := mschap.MasterKey(mschap.HashNtPasswordHash(ntHash), ntResp)
	toServer := capturetest.NewEncryptor(mschap.AsymmetricStartKey(mk, true))
	toClient := capturetest.NewEncryptor(mschap.AsymmetricStartKey(mk, false))
	bits := capturetest.MppeBits(true, true)

	frames := [][]byte{
		capturetest.Frame(testServer, testClient, capture.ProtocolCHAP, capturetest.ChapChallenge(1, testAuth, "pptpd")),
		capturetest.Frame(testClient, testServer, capture.ProtocolCHAP, capturetest.ChapResponse(1, testPeer, ntResp, username)),
		capturetest.Frame(testServer, testClient, capture.ProtocolCHAP, capturetest.ChapSuccess(1, "S=0F M=hi")),
		udpFrame(t),
		capturetest.Frame(testClient, testServer, capture.ProtocolCCP, capturetest.CcpConfigure(capture.CcpCodeConfigureRequest, 1, bits)),
		capturetest.Frame(testServer, testClient, capture.ProtocolCCP, capturetest.CcpConfigure(capture.CcpCodeConfigureAck, 1, bits)),
	}
	for i := 0; i < n; i++ {
		c := uint16(i)
		up := capturetest.InnerIPv4(testClient, testServer, []byte("up"))
		down := capturetest.InnerIPv4(testServer, testClient, []byte("down"))
		frames = append(frames,
			capturetest.Frame(testClient, testServer, capture.ProtocolMPPE, capturetest.Mppe(c, true, toServer.Encrypt(c, up))),
			capturetest.Frame(testServer, testClient, capture.ProtocolMPPE, capturetest.Mppe(c, true, toClient.Encrypt(c, down))),
		)
	}

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000+int64(i), 0), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
	}

	path := filepath.Join(t.TempDir(), "session.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

func udpFrame(t *testing.T) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: testClient.AsSlice(), DstIP: testServer.AsSlice()}
	udp := &layers.UDP{SrcPort: 1000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		&layers.Ethernet{SrcMAC: capturetest.MAC(testClient), DstMAC: capturetest.MAC(testServer), EthernetType: layers.EthernetTypeIPv4},
		ip, udp, gopacket.Payload("query")))
	return buf.Bytes()
}

// readUDPPayloads returns the UDP payloads of every frame in a pcap file.
func readUDPPayloads(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)

	var ret []string
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
		if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
			ret = append(ret, string(udp.Payload))
		}
	}
	return ret
}

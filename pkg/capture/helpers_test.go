package capture

import (
	"bytes"
	"net/netip"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

var (
	testServer = netip.MustParseAddr("10.0.0.1")
	testClient = netip.MustParseAddr("10.0.0.2")
)

func captureInfo(n int) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, int64(n)*int64(time.Millisecond)),
		CaptureLength: 0,
		Length:        0,
	}
}

// pcapBytes writes frames to an in-memory pcap file.
func pcapBytes(t *testing.T, linkType layers.LinkType, frames ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, linkType))
	for i, f := range frames {
		ci := captureInfo(i)
		ci.CaptureLength, ci.Length = len(f), len(f)
		require.NoError(t, w.WritePacket(ci, f))
	}
	return buf.Bytes()
}

// pcapngBytes writes frames to an in-memory pcapng file.
func pcapngBytes(t *testing.T, frames ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, f := range frames {
		ci := captureInfo(i)
		ci.CaptureLength, ci.Length = len(f), len(f)
		require.NoError(t, w.WritePacket(ci, f))
	}
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

package chap

import (
	"encoding/hex"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"chapcrack-go/pkg/capture"
	"chapcrack-go/pkg/capture/capturetest"
	"chapcrack-go/pkg/mschap"
)

var (
	testServer = netip.MustParseAddr("192.168.1.1")
	testClient = netip.MustParseAddr("192.168.1.50")
)

func h2b(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

type fixture struct {
	auth, peer []byte
	username   string
	ntHash     []byte
	ntResponse []byte
}

func newFixture(t *testing.T, username, password string) fixture {
	t.Helper()
	f := fixture{
		auth:     h2b(t, "5b5d7c7d7b3f2f3e3c2c602132262628"),
		peer:     h2b(t, "21402324255e262a28295f2b3a337c7e"),
		username: username,
	}
	var err error
	f.ntHash, err = mschap.NtPasswordHash(password)
	require.NoError(t, err)
	f.ntResponse = mschap.ChallengeResponse(mschap.ChallengeHash(f.peer, f.auth, username), f.ntHash)
	return f
}

func (f fixture) packets(t *testing.T, server, client netip.Addr) (challenge, response, success *capture.ChapPacket) {
	t.Helper()
	var err error
	challenge, err = capture.ParseChap(capturetest.ChapChallenge(1, f.auth, "pptpd"), server, client)
	require.NoError(t, err)
	response, err = capture.ParseChap(capturetest.ChapResponse(1, f.peer, f.ntResponse, f.username), client, server)
	require.NoError(t, err)
	success, err = capture.ParseChap(capturetest.ChapSuccess(1, "S=407A5589115FD0D6209F510FE9C04566932CDA56 M=Welcome"), server, client)
	require.NoError(t, err)
	return challenge, response, success
}

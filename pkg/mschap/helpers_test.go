package mschap

import (
	"encoding/hex"
	"testing"
)

// h2b decodes a hex fixture, failing the test on malformed input.
func h2b(t *testing.T, h string) []byte {
	t.Helper()
	b, err := hex.DecodeString(h)
	if err != nil {
		t.Fatalf("bad hex fixture %q: %v", h, err)
	}
	return b
}

// RFC 2759 section 9.2 sample values.
const (
	rfcUsername      = "User"
	rfcPassword      = "clientPass"
	rfcAuthChallenge = "5b5d7c7d7b3f2f3e3c2c602132262628"
	rfcPeerChallenge = "21402324255e262a28295f2b3a337c7e"
	rfcChallenge     = "d02e4386bce91226"
	rfcPasswordHash  = "44ebba8d5312b8d611474411f56989ae"
	rfcHashHash      = "41c00c584bd2d91c4017a2a12fa59f3f"
	rfcNtResponse    = "82309ecd8d708b5ea08faa3981cd83544233114a3d85d6df"
	rfcMasterKey     = "fdece3717a8c838cb388e527ae3cdd31"
)

// RFC 3079 section 3.5.3 sample values for 128-bit keys.
const (
	rfcSendStartKey128   = "8b7cdc149b993a1ba118cb153f56dccb"
	rfcSendSessionKey128 = "405cb2247a7956e6e211007ae27b22d4"
)

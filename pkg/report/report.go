// Package report renders recovered handshakes for operators and DES cracking services.
package report

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"chapcrack-go/pkg/chap"
	"chapcrack-go/pkg/mschap"
)

// TokenPrefix marks a cracking service submission token.
const TokenPrefix = "$99$"

const tokenSize = 3*mschap.ChallengeSize + 2

// ErrInvalidToken is returned by ParseToken for malformed tokens.
var ErrInvalidToken = errors.New("invalid token")

// HexBytes marshals as a lowercase hex string.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	d, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*b = d
	return nil
}

func (b HexBytes) String() string {
	return hex.EncodeToString(b)
}

// HandshakeReport is everything an operator needs to recover the NT hash of one handshake.
type HandshakeReport struct {
	Server                netip.Addr `json:"server"`
	Client                netip.Addr `json:"client"`
	Username              string     `json:"username"`
	AuthenticatorResponse string     `json:"authenticator_response,omitempty"`
	Plaintext             HexBytes   `json:"plaintext"`
	C1                    HexBytes   `json:"c1"`
	C2                    HexBytes   `json:"c2"`
	C3                    HexBytes   `json:"c3"`
	K3                    HexBytes   `json:"k3,omitempty"`
	Token                 string     `json:"token,omitempty"`
}

// FromHandshake extracts the report fields of a complete handshake.
func FromHandshake(h *chap.Handshake) HandshakeReport {
	c1, c2, c3 := h.Ciphertext()
	return HandshakeReport{
		Server:                h.Pair().Server,
		Client:                h.Pair().Client,
		Username:              h.Username(),
		AuthenticatorResponse: h.AuthenticatorResponse(),
		Plaintext:             h.Plaintext(),
		C1:                    c1,
		C2:                    c2,
		C3:                    c3,
	}
}

// WithK3 returns a copy of r carrying k3 and the token built from it.
func (r HandshakeReport) WithK3(k3 []byte) HandshakeReport {
	r.K3 = k3
	r.Token = Token(r.Plaintext, r.C1, r.C2, k3)
	return r
}

func (r HandshakeReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Got completed handshake [%s --> %s]\n", r.Client, r.Server)
	fmt.Fprintf(&sb, "                   User = %s\n", r.Username)
	fmt.Fprintf(&sb, "                     C1 = %s\n", r.C1)
	fmt.Fprintf(&sb, "                     C2 = %s\n", r.C2)
	fmt.Fprintf(&sb, "                     C3 = %s\n", r.C3)
	fmt.Fprintf(&sb, "                      P = %s\n", r.Plaintext)
	if len(r.K3) > 0 {
		fmt.Fprintf(&sb, "                     K3 = %s\n", r.K3)
		fmt.Fprintf(&sb, "CloudCracker Submission = %s\n", r.Token)
	}
	return sb.String()
}

// Token returns "$99$" followed by base64(plaintext || c1 || c2 || k3[0:2]).
func Token(plaintext, c1, c2, k3 []byte) string {
	raw := make([]byte, 0, tokenSize)
	raw = append(raw, plaintext...)
	raw = append(raw, c1...)
	raw = append(raw, c2...)
	raw = append(raw, k3[:2]...)
	return TokenPrefix + base64.StdEncoding.EncodeToString(raw)
}

// ParseToken splits a token back into its parts.
func ParseToken(s string) (plaintext, c1, c2, k3Prefix []byte, err error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(s), TokenPrefix)
	if !ok {
		return nil, nil, nil, nil, fmt.Errorf("%w: missing %s prefix", ErrInvalidToken, TokenPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(raw) != tokenSize {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidToken, len(raw), tokenSize)
	}
	return raw[0:8], raw[8:16], raw[16:24], raw[24:26], nil
}

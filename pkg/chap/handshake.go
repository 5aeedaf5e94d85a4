// Package chap reconstructs MS-CHAPv2 handshakes from captured CHAP messages.
package chap

import (
	"bytes"
	"fmt"
	"net/netip"
	"slices"

	"chapcrack-go/pkg/capture"
	"chapcrack-go/pkg/mschap"
)

// Pair identifies one PPTP session by its endpoints.
type Pair struct {
	Server netip.Addr
	Client netip.Addr
}

func (p Pair) String() string {
	return fmt.Sprintf("%s -> %s", p.Client, p.Server)
}

// ComparePairs orders pairs by server then client address.
func ComparePairs(a, b Pair) int {
	if c := a.Server.Compare(b.Server); c != 0 {
		return c
	}
	return a.Client.Compare(b.Client)
}

// SortHandshakes orders handshakes by pair.
func SortHandshakes(hs []*Handshake) {
	slices.SortFunc(hs, func(a, b *Handshake) int {
		return ComparePairs(a.pair, b.pair)
	})
}

// Handshake holds the Challenge, Response and Success messages of one MS-CHAPv2 exchange.
type Handshake struct {
	pair      Pair
	challenge *capture.ChapPacket
	response  *capture.ChapPacket
	success   *capture.ChapPacket
}

// NewHandshake returns an empty handshake for pair.
func NewHandshake(pair Pair) *Handshake {
	return &Handshake{pair: pair}
}

// AddHandshakePacket records p. A Challenge starts a new attempt and discards
// anything seen before it.
func (h *Handshake) AddHandshakePacket(p *capture.ChapPacket) {
	switch p.Code() {
	case capture.ChapCodeChallenge:
		h.challenge, h.response, h.success = p, nil, nil
	case capture.ChapCodeResponse:
		h.response = p
	case capture.ChapCodeSuccess:
		h.success = p
	}
}

// IsComplete reports whether all three messages have been seen.
func (h *Handshake) IsComplete() bool {
	return h.challenge != nil && h.response != nil && h.success != nil
}

func (h *Handshake) mustComplete(op string) {
	if !h.IsComplete() {
		panic(fmt.Sprintf("chap: %s called on incomplete handshake %s", op, h.pair))
	}
}

// Pair returns the endpoints of the handshake.
func (h *Handshake) Pair() Pair {
	return h.pair
}

// Username returns the name the client authenticated with.
func (h *Handshake) Username() string {
	if h.response == nil {
		return ""
	}
	return h.response.Name()
}

// NtResponse returns the 24-byte NT-Response. It panics if the handshake is incomplete.
func (h *Handshake) NtResponse() []byte {
	h.mustComplete("NtResponse")
	return h.response.NtResponse()
}

// AuthenticatorResponse returns the "S=" string of the Success message, if any.
func (h *Handshake) AuthenticatorResponse() string {
	if h.success == nil {
		return ""
	}
	return h.success.AuthenticatorResponse()
}

// Plaintext returns the 8-byte challenge hash every DES block encrypts.
// It panics if the handshake is incomplete.
func (h *Handshake) Plaintext() []byte {
	h.mustComplete("Plaintext")
	return mschap.ChallengeHash(h.response.PeerChallenge(), h.challenge.Challenge(), h.response.Name())
}

// Ciphertext returns the three DES blocks of the NT-Response.
// It panics if the handshake is incomplete.
func (h *Handshake) Ciphertext() (c1, c2, c3 []byte) {
	h.mustComplete("Ciphertext")
	resp := h.response.NtResponse()
	return resp[0:8], resp[8:16], resp[16:24]
}

// IsForHash reports whether ntHash produced this handshake's NT-Response.
func (h *Handshake) IsForHash(ntHash []byte) bool {
	if !h.IsComplete() || len(ntHash) != mschap.NTHashSize {
		return false
	}
	plaintext := h.Plaintext()
	c1, c2, c3 := h.Ciphertext()
	k1, k2, k3 := mschap.DESKeys(ntHash)

	return bytes.Equal(mschap.DESEncrypt(k1, plaintext), c1) &&
		bytes.Equal(mschap.DESEncrypt(k2, plaintext), c2) &&
		bytes.Equal(mschap.DESEncrypt(k3, plaintext), c3)
}

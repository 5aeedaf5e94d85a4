// Package ccp tracks the Compression Control Protocol negotiation that selects MPPE options.
package ccp

import (
	"net/netip"

	"chapcrack-go/pkg/capture"
)

// Negotiation holds the client's Configure-Request and the server's Configure-Ack.
type Negotiation struct {
	client  netip.Addr
	server  netip.Addr
	request *capture.CcpPacket
	ack     *capture.CcpPacket
}

// NewNegotiation returns an empty negotiation between client and server.
func NewNegotiation(client, server netip.Addr) *Negotiation {
	return &Negotiation{client: client, server: server}
}

// AddCcpPacket keeps a Configure-Request sent by the client and a Configure-Ack sent by
// the server. Everything else is ignored.
func (n *Negotiation) AddCcpPacket(p *capture.CcpPacket) {
	switch {
	case p.Code() == capture.CcpCodeConfigureRequest && p.Src() == n.client:
		n.request = p
	case p.Code() == capture.CcpCodeConfigureAck && p.Src() == n.server:
		n.ack = p
	}
}

func (n *Negotiation) IsComplete() bool {
	return n.request != nil && n.ack != nil
}

// IsStateless reads the H bit of the client's request.
func (n *Negotiation) IsStateless() bool {
	return n.request != nil && n.request.IsStateless()
}

// Is128Bit reports whether the client's request selects 128-bit keys.
func (n *Negotiation) Is128Bit() bool {
	return n.request != nil && n.request.Is128Bit()
}

// Supported reports whether traffic of this session can be decrypted.
func (n *Negotiation) Supported() bool {
	return n.IsComplete() && n.IsStateless() && n.Is128Bit()
}

package chap

import (
	"net/netip"

	"chapcrack-go/pkg/capture"
)

// Tracker demultiplexes CHAP messages into per-pair handshakes.
// Entries live as long as the tracker.
type Tracker struct {
	handshakes map[Pair]*Handshake
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{handshakes: make(map[Pair]*Handshake)}
}

// PairOf resolves the session endpoints from the sender role implied by the CHAP code.
func PairOf(p *capture.ChapPacket) Pair {
	if p.Code() == capture.ChapCodeResponse {
		return Pair{Server: p.Dst(), Client: p.Src()}
	}
	return Pair{Server: p.Src(), Client: p.Dst()}
}

// AddHandshakePacket routes p to its pair's handshake, creating it on first sight,
// and returns that handshake.
func (t *Tracker) AddHandshakePacket(p *capture.ChapPacket) *Handshake {
	pair := PairOf(p)
	h, ok := t.handshakes[pair]
	if !ok {
		h = NewHandshake(pair)
		t.handshakes[pair] = h
	}
	h.AddHandshakePacket(p)
	return h
}

// Handshake returns the handshake for pair, if one has been seen.
func (t *Tracker) Handshake(pair Pair) (*Handshake, bool) {
	h, ok := t.handshakes[pair]
	return h, ok
}

// CompletedHandshakes returns the complete handshakes keyed by server then client.
func (t *Tracker) CompletedHandshakes() map[netip.Addr]map[netip.Addr]*Handshake {
	ret := make(map[netip.Addr]map[netip.Addr]*Handshake)
	for pair, h := range t.handshakes {
		if !h.IsComplete() {
			continue
		}
		clients, ok := ret[pair.Server]
		if !ok {
			clients = make(map[netip.Addr]*Handshake)
			ret[pair.Server] = clients
		}
		clients[pair.Client] = h
	}
	return ret
}

// Len returns the number of pairs seen.
func (t *Tracker) Len() int {
	return len(t.handshakes)
}

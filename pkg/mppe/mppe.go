// Package mppe decrypts stateless 128-bit MPPE traffic of one PPTP session.
package mppe

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/rs/zerolog"

	"chapcrack-go/pkg/capture"
	"chapcrack-go/pkg/mschap"
)

const (
	counterSpace = 4096
	counterMask  = counterSpace - 1

	// Counters less than half the space ahead of the current one are treated as
	// lost or reordered packets; everything else is stale.
	forwardWindow = counterSpace / 2

	// The initial session key is in force at this counter, so counter 0 is one
	// ratchet step past it.
	initialCounter = counterMask
)

// Direction is the sending side of a packet.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client_to_server"
	case ServerToClient:
		return "server_to_client"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Result classifies the outcome of one packet.
type Result int

const (
	ResultDecrypted Result = iota
	ResultStale
	ResultUndecodable
	ResultUnknownFlow
)

func (r Result) String() string {
	switch r {
	case ResultDecrypted:
		return "decrypted"
	case ResultStale:
		return "stale"
	case ResultUndecodable:
		return "undecodable"
	case ResultUnknownFlow:
		return "unknown_flow"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// DirectionStats counts packet outcomes for one direction.
type DirectionStats struct {
	Decrypted   int
	Stale       int
	Undecodable int
}

type direction struct {
	startKey   []byte
	sessionKey []byte
	counter    uint16
	stats      DirectionStats
}

func newDirection(startKey []byte) *direction {
	return &direction{
		startKey:   startKey,
		sessionKey: mschap.InitialSessionKey(startKey),
		counter:    initialCounter,
	}
}

func (d *direction) ratchet(steps uint16) {
	for i := uint16(0); i < steps; i++ {
		d.sessionKey = mschap.NextSessionKey(d.startKey, d.sessionKey)
	}
	d.counter = (d.counter + steps) & counterMask
}

// Option configures a StateManager.
type Option func(*StateManager)

// WithResyncOnFlush lets a flushed packet pull the key forward even when its counter
// falls outside the forward window. It is off by default: in stateless mode every
// packet has the flushed bit set, so enabling it turns every late packet into a
// forward ratchet of up to 4095 steps instead of a drop.
func WithResyncOnFlush(enabled bool) Option {
	return func(m *StateManager) {
		m.resyncOnFlush = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *StateManager) {
		m.logger = logger
	}
}

// StateManager holds the per-direction session keys of one client/server pair.
type StateManager struct {
	client        netip.Addr
	server        netip.Addr
	masterKey     []byte
	dirs          [2]*direction
	resyncOnFlush bool
	logger        zerolog.Logger
}

// New derives the MPPE keys from the NT hash and the NT-Response of the
// authenticating handshake.
func New(ntHash, ntResponse []byte, client, server netip.Addr, opts ...Option) (*StateManager, error) {
	if len(ntHash) != mschap.NTHashSize {
		return nil, fmt.Errorf("nt hash must be %d bytes, got %d", mschap.NTHashSize, len(ntHash))
	}
	if len(ntResponse) != mschap.NTResponseSize {
		return nil, fmt.Errorf("nt response must be %d bytes, got %d", mschap.NTResponseSize, len(ntResponse))
	}

	masterKey := mschap.MasterKey(mschap.HashNtPasswordHash(ntHash), ntResponse)
	m := &StateManager{
		client:    client,
		server:    server,
		masterKey: masterKey,
		logger:    zerolog.Nop(),
	}
	m.dirs[ClientToServer] = newDirection(mschap.AsymmetricStartKey(masterKey, true))
	m.dirs[ServerToClient] = newDirection(mschap.AsymmetricStartKey(masterKey, false))

	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "mppe").
		Str("client", client.String()).Str("server", server.String()).Logger()
	return m, nil
}

// Stats returns the counters of one direction.
func (m *StateManager) Stats(d Direction) DirectionStats {
	return m.dirs[d].stats
}

// AddMppePacket decrypts p and returns the rebuilt Ethernet frame, or false when the
// packet is stale, not part of this session or does not carry IPv4.
func (m *StateManager) AddMppePacket(p *capture.MppePacket) (*capture.Frame, bool) {
	f, res := m.Decrypt(p)
	return f, res == ResultDecrypted
}

func (m *StateManager) directionOf(p *capture.MppePacket) (Direction, bool) {
	switch {
	case p.Src() == m.client && p.Dst() == m.server:
		return ClientToServer, true
	case p.Src() == m.server && p.Dst() == m.client:
		return ServerToClient, true
	}
	return 0, false
}

// Decrypt is AddMppePacket with the outcome spelled out.
func (m *StateManager) Decrypt(p *capture.MppePacket) (*capture.Frame, Result) {
	dir, ok := m.directionOf(p)
	if !ok {
		return nil, ResultUnknownFlow
	}
	d := m.dirs[dir]

	plaintext := p.Payload()
	if p.IsEncrypted() {
		delta := (p.Counter() - d.counter) & counterMask
		switch {
		case delta == 0:
		case delta < forwardWindow:
			d.ratchet(delta)
		case p.IsFlushed() && m.resyncOnFlush:
			m.logger.Debug().Stringer("direction", dir).Uint16("counter", p.Counter()).
				Uint16("current", d.counter).Msg("Resynchronizing on flushed packet")
			d.ratchet(delta)
		default:
			m.logger.Debug().Stringer("direction", dir).Uint16("counter", p.Counter()).
				Uint16("current", d.counter).Msg("Dropping stale packet")
			d.stats.Stale++
			return nil, ResultStale
		}

		plaintext = mschap.RC4(d.sessionKey, p.Payload())
	}

	f, ok := spliceIPv4(p.Frame(), plaintext)
	if !ok {
		d.stats.Undecodable++
		return nil, ResultUndecodable
	}
	d.stats.Decrypted++
	return f, ResultDecrypted
}

// spliceIPv4 replaces the payload of frame with the IPv4 datagram carried in a
// decrypted PPP payload.
func spliceIPv4(frame *capture.Frame, ppp []byte) (*capture.Frame, bool) {
	if frame == nil || len(ppp) < 2 || ppp[0] != 0x00 || ppp[1] != byte(layers.PPPTypeIPv4) {
		return nil, false
	}
	datagram := ppp[2:]

	pkt := gopacket.NewPacket(datagram, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if pkt.Layer(layers.LayerTypeIPv4) == nil {
		return nil, false
	}

	eth := layers.Ethernet{
		SrcMAC:       frame.Ethernet.SrcMAC,
		DstMAC:       frame.Ethernet.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, &eth, gopacket.Payload(datagram)); err != nil {
		return nil, false
	}

	return &capture.Frame{
		CaptureInfo: frame.CaptureInfo,
		Ethernet:    eth,
		Data:        buf.Bytes(),
	}, true
}

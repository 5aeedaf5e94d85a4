// Package ppp ties CHAP, CCP and MPPE state together for every session in a capture.
package ppp

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"chapcrack-go/pkg/capture"
	"chapcrack-go/pkg/ccp"
	"chapcrack-go/pkg/chap"
	"chapcrack-go/pkg/metrics"
	"chapcrack-go/pkg/mppe"
	"chapcrack-go/pkg/mschap"
)

type session struct {
	handshake *chap.Handshake
	checked   bool
	verified  bool
	ccp       *ccp.Negotiation
	mppe      *mppe.StateManager
}

// StateManager decrypts the sessions authenticated with one NT hash.
// It is not safe for concurrent use; feed it packets in capture order.
type StateManager struct {
	ntHash   []byte
	logger   zerolog.Logger
	recorder metrics.Recorder
	mppeOpts []mppe.Option
	tracker  *chap.Tracker
	sessions map[chap.Pair]*session
}

// New returns a manager for ntHash. opts are applied to every MPPE state it creates.
func New(ntHash []byte, logger zerolog.Logger, recorder metrics.Recorder, opts ...mppe.Option) (*StateManager, error) {
	if len(ntHash) != mschap.NTHashSize {
		return nil, fmt.Errorf("nt hash must be %d bytes, got %d", mschap.NTHashSize, len(ntHash))
	}
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	logger = logger.With().Str("component", "ppp").Logger()
	return &StateManager{
		ntHash:   slices.Clone(ntHash),
		logger:   logger,
		recorder: recorder,
		mppeOpts: append([]mppe.Option{mppe.WithLogger(logger)}, opts...),
		tracker:  chap.NewTracker(),
		sessions: make(map[chap.Pair]*session),
	}, nil
}

// AddPacket feeds one packet and returns a decrypted frame when p yields one.
func (m *StateManager) AddPacket(p capture.Packet) (*capture.Frame, bool) {
	switch p := p.(type) {
	case *capture.ChapPacket:
		m.recorder.Packet("chap")
		m.addChap(p)
	case *capture.CcpPacket:
		m.recorder.Packet("ccp")
		m.addCcp(p)
	case *capture.MppePacket:
		m.recorder.Packet("mppe")
		return m.addMppe(p)
	}
	return nil, false
}

func (m *StateManager) addChap(p *capture.ChapPacket) {
	h := m.tracker.AddHandshakePacket(p)
	pair := h.Pair()

	s, ok := m.sessions[pair]
	if !ok || p.Code() == capture.ChapCodeChallenge {
		s = &session{handshake: h}
		m.sessions[pair] = s
	}

	if s.checked || !h.IsComplete() {
		return
	}
	s.checked = true
	s.verified = h.IsForHash(m.ntHash)
	m.recorder.Handshake(s.verified)

	ev := m.logger.Debug()
	if s.verified {
		ev = m.logger.Info()
	}
	ev.Str("server", pair.Server.String()).
		Str("client", pair.Client.String()).
		Str("username", h.Username()).
		Bool("verified", s.verified).
		Msg("Handshake complete")
}

// verifiedSession finds the verified session a CCP or MPPE packet belongs to. Either
// endpoint may be the sender.
func (m *StateManager) verifiedSession(p capture.Packet) (chap.Pair, *session, bool) {
	for _, pair := range []chap.Pair{
		{Server: p.Src(), Client: p.Dst()},
		{Server: p.Dst(), Client: p.Src()},
	} {
		if s, ok := m.sessions[pair]; ok && s.verified {
			return pair, s, true
		}
	}
	return chap.Pair{}, nil, false
}

func (m *StateManager) addCcp(p *capture.CcpPacket) {
	pair, s, ok := m.verifiedSession(p)
	if !ok {
		return
	}
	if s.ccp == nil {
		s.ccp = ccp.NewNegotiation(pair.Client, pair.Server)
	}
	s.ccp.AddCcpPacket(p)
}

func (m *StateManager) addMppe(p *capture.MppePacket) (*capture.Frame, bool) {
	pair, s, ok := m.verifiedSession(p)
	if !ok || s.ccp == nil || !s.ccp.Supported() {
		return nil, false
	}

	if s.mppe == nil {
		state, err := mppe.New(m.ntHash, s.handshake.NtResponse(), pair.Client, pair.Server, m.mppeOpts...)
		if err != nil {
			m.logger.Error().Err(err).Str("server", pair.Server.String()).Msg("Failed to derive MPPE keys")
			return nil, false
		}
		m.logger.Info().Str("server", pair.Server.String()).Str("client", pair.Client.String()).
			Msg("MPPE keys derived")
		s.mppe = state
	}

	dir := mppe.ClientToServer
	if p.Src() == pair.Server {
		dir = mppe.ServerToClient
	}
	f, res := s.mppe.Decrypt(p)
	m.recorder.MppePacket(dir.String(), res.String())
	return f, res == mppe.ResultDecrypted
}

// Tracker returns the handshake tracker.
func (m *StateManager) Tracker() *chap.Tracker {
	return m.tracker
}

// VerifiedHandshakes returns the handshakes that matched the NT hash, ordered by server
// then client address.
func (m *StateManager) VerifiedHandshakes() []*chap.Handshake {
	var ret []*chap.Handshake
	for _, s := range m.sessions {
		if s.verified {
			ret = append(ret, s.handshake)
		}
	}
	chap.SortHandshakes(ret)
	return ret
}

// MppeStats returns the per-direction MPPE counters of a verified pair.
func (m *StateManager) MppeStats(pair chap.Pair) (c2s, s2c mppe.DirectionStats, ok bool) {
	s, found := m.sessions[pair]
	if !found || s.mppe == nil {
		return c2s, s2c, false
	}
	return s.mppe.Stats(mppe.ClientToServer), s.mppe.Stats(mppe.ServerToClient), true
}

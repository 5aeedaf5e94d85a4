package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/rs/zerolog"
)

// ErrUnsupportedLinkType is returned for captures that are not Ethernet.
var ErrUnsupportedLinkType = errors.New("unsupported link type")

const pcapngMagic = 0x0a0d0d0a

type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Format is a capture container format.
type Format int

const (
	FormatPcap Format = iota
	FormatPcapng
)

func (f Format) String() string {
	if f == FormatPcapng {
		return "pcapng"
	}
	return "pcap"
}

// Stats counts what the reader has seen.
type Stats struct {
	Frames  int
	Skipped int
	Chap    int
	Ccp     int
	Mppe    int
}

// Reader yields CHAP, CCP and MPPE packets from a pcap or pcapng stream.
type Reader struct {
	src     packetDataSource
	format  Format
	snaplen uint32
	logger  zerolog.Logger
	stats   Stats
}

// NewReader detects the capture format and reads its header.
func NewReader(r io.Reader, logger zerolog.Logger) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	rd := &Reader{logger: logger.With().Str("component", "capture").Logger()}

	var linkType layers.LinkType
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng: %w", err)
		}
		rd.src = ng
		rd.format = FormatPcapng
		linkType = ng.LinkType()
		rd.snaplen = 65535
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcap: %w", err)
		}
		rd.src = pr
		linkType = pr.LinkType()
		rd.snaplen = pr.Snaplen()
	}

	if linkType != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLinkType, linkType)
	}

	rd.logger.Debug().Stringer("format", rd.format).Str("linktype", linkType.String()).Uint32("snaplen", rd.snaplen).Msg("Capture opened")
	return rd, nil
}

// OpenFile opens a capture file. The returned closer releases the file.
func OpenFile(path string, logger zerolog.Logger) (*Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	r, err := NewReader(f, logger)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

// Format returns the container format of the input capture.
func (r *Reader) Format() Format {
	return r.format
}

// Snaplen returns the snapshot length of the input capture.
func (r *Reader) Snaplen() uint32 {
	return r.snaplen
}

// Stats returns a snapshot of the reader counters.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Next returns the next CHAP, CCP or MPPE packet. It returns io.EOF at the end of the capture.
func (r *Reader) Next() (Packet, error) {
	for {
		data, ci, err := r.src.ReadPacketData()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}
		r.stats.Frames++

		p, ok := Classify(data, ci)
		if !ok {
			r.stats.Skipped++
			continue
		}

		switch p.(type) {
		case *ChapPacket:
			r.stats.Chap++
		case *CcpPacket:
			r.stats.Ccp++
		case *MppePacket:
			r.stats.Mppe++
		}
		return p, nil
	}
}

// Classify decodes one Ethernet frame. It reports false for anything that is not a
// well formed CHAP, CCP or MPPE message carried over PPTP GRE.
func Classify(data []byte, ci gopacket.CaptureInfo) (Packet, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return nil, false
	}
	ip4, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return nil, false
	}
	gre, ok := pkt.Layer(layers.LayerTypeGRE).(*layers.GRE)
	if !ok || gre.Protocol != layers.EthernetTypePPP {
		return nil, false
	}

	src, ok := netip.AddrFromSlice(ip4.SrcIP)
	if !ok {
		return nil, false
	}
	dst, ok := netip.AddrFromSlice(ip4.DstIP)
	if !ok {
		return nil, false
	}
	src, dst = src.Unmap(), dst.Unmap()

	proto, payload, ok := unwrapPPP(gre.LayerPayload())
	if !ok {
		return nil, false
	}

	switch proto {
	case ProtocolCHAP:
		p, err := ParseChap(payload, src, dst)
		if err != nil {
			return nil, false
		}
		return p, true
	case ProtocolCCP:
		p, err := ParseCcp(payload, src, dst)
		if err != nil {
			return nil, false
		}
		return p, true
	case ProtocolMPPE:
		frame := &Frame{CaptureInfo: ci, Ethernet: *eth, Data: data}
		p, err := ParseMppe(payload, src, dst, frame)
		if err != nil {
			return nil, false
		}
		return p, true
	}
	return nil, false
}

package capture

import (
	"fmt"
	"io"
	"os"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// Writer writes Ethernet frames to a pcap or pcapng stream.
type Writer struct {
	w      packetWriter
	ng     *pcapgo.NgWriter
	frames int
}

// NewWriter writes the pcap file header for an Ethernet capture.
func NewWriter(w io.Writer, snaplen uint32) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snaplen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw}, nil
}

// NewNgWriter writes the pcapng section header and a single Ethernet interface.
// Call Flush when done.
func NewNgWriter(w io.Writer) (*Writer, error) {
	ng, err := pcapgo.NewNgWriter(w, layers.LinkTypeEthernet)
	if err != nil {
		return nil, fmt.Errorf("failed to write pcapng header: %w", err)
	}
	return &Writer{w: ng, ng: ng}, nil
}

type fileWriter struct {
	w *Writer
	f *os.File
}

func (fw fileWriter) Close() error {
	if err := fw.w.Flush(); err != nil {
		fw.f.Close()
		return err
	}
	return fw.f.Close()
}

// CreateFile creates path in the given format and returns a writer for it.
// Closing the returned closer flushes the writer.
func CreateFile(path string, format Format, snaplen uint32) (*Writer, io.Closer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	var w *Writer
	if format == FormatPcapng {
		w, err = NewNgWriter(f)
	} else {
		w, err = NewWriter(f, snaplen)
	}
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return w, fileWriter{w: w, f: f}, nil
}

// WriteFrame appends one frame. Capture lengths are taken from the frame data.
func (w *Writer) WriteFrame(f *Frame) error {
	ci := f.CaptureInfo
	ci.CaptureLength = len(f.Data)
	ci.Length = len(f.Data)
	ci.InterfaceIndex = 0
	if err := w.w.WritePacket(ci, f.Data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	w.frames++
	return nil
}

// Flush writes buffered pcapng data. It is a no-op for pcap.
func (w *Writer) Flush() error {
	if w.ng == nil {
		return nil
	}
	if err := w.ng.Flush(); err != nil {
		return fmt.Errorf("failed to flush pcapng: %w", err)
	}
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int {
	return w.frames
}

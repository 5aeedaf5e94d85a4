// Package metrics provides a standard interface for instrumenting the pipeline.
// Backends can be swapped without touching the instrumentation points.
package metrics

import "time"

// Recorder receives pipeline events.
type Recorder interface {
	// Packet counts one classified capture packet of the given kind (chap, ccp, mppe).
	Packet(kind string)

	// Handshake counts one completed handshake and whether it matched the NT hash.
	Handshake(verified bool)

	// MppePacket counts one MPPE packet outcome for a direction.
	MppePacket(direction, result string)

	// K3Crack records the duration of one K3 search.
	K3Crack(d time.Duration, found bool)

	// WriteTextfile exports the collected metrics to path, if the backend supports it.
	WriteTextfile(path string) error
}

// noopRecorder is used when metrics are disabled to avoid nil checks.
type noopRecorder struct{}

// NewNoopRecorder returns a new no-op recorder.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

func (noopRecorder) Packet(string)               {}
func (noopRecorder) Handshake(bool)              {}
func (noopRecorder) MppePacket(string, string)   {}
func (noopRecorder) K3Crack(time.Duration, bool) {}
func (noopRecorder) WriteTextfile(string) error  { return nil }

package capture

import "encoding/binary"

// PPP protocol numbers
const (
	ProtocolCHAP uint16 = 0xc223
	ProtocolCCP  uint16 = 0x80fd
	ProtocolMPPE uint16 = 0x00fd
)

// unwrapPPP strips the optional 0xff 0x03 address/control prefix and returns the PPP
// protocol number and the payload. Handles protocol field compression.
func unwrapPPP(raw []byte) (uint16, []byte, bool) {
	off := 0
	if len(raw) >= 2 && raw[0] == 0xff && raw[1] == 0x03 {
		off = 2
	}
	if off >= len(raw) {
		return 0, nil, false
	}
	if raw[off]&0x01 == 1 {
		return uint16(raw[off]), raw[off+1:], true
	}
	if off+2 > len(raw) {
		return 0, nil, false
	}
	proto := binary.BigEndian.Uint16(raw[off : off+2])
	if proto&0x0001 == 0 {
		// The low octet of a PPP protocol number is always odd.
		return 0, nil, false
	}
	return proto, raw[off+2:], true
}

// Package statusch implements a framed device-status side channel,
// adapted from the teacher's pkg/usock + pkg/ble: the same sync-byte/
// frame-ID/length/CRC-16 framing the teacher used to carry nRF52 BLE
// messages now carries small CBOR-encoded query/response pairs between
// the host and a resident loader, answering "what version is the
// loader?" and "how did the last upload session end?" — queries that sit
// outside the core upload wire protocol (spec §4.1, which stays
// length-delimited with no framing byte) and are only ever exchanged
// while the device is idle, between sessions.
package statusch

// QueryKind identifies which question a Query frame is asking, the
// channel's analogue of the teacher's ble.MessageType enumeration.
type QueryKind uint8

const (
	// QueryVersion asks the resident loader for its version string.
	QueryVersion QueryKind = iota + 1
	// QueryLastResult asks for the outcome of the most recent upload
	// session.
	QueryLastResult
)

func (k QueryKind) String() string {
	switch k {
	case QueryVersion:
		return "version"
	case QueryLastResult:
		return "last-result"
	default:
		return "unknown"
	}
}

// Query is the CBOR-encoded payload of a request frame.
type Query struct {
	Kind QueryKind `cbor:"kind"`
}

// DeviceInfo is the CBOR-encoded payload of a response frame.
type DeviceInfo struct {
	LoaderVersion string `cbor:"version,omitempty"`
	LastResultOK  bool   `cbor:"last_ok"`
	LastResult    string `cbor:"last_result,omitempty"`
}

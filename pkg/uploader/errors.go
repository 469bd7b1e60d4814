package uploader

import "fmt"

// ErrorKind classifies why an upload session failed (spec §7).
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrSerialOpen
	ErrImageTooLarge
	ErrImageEmpty
	ErrHandshakeTimeout
	ErrWrongAck
	ErrNak
	ErrCrcMismatch
	ErrResponseTruncated
	ErrIo
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSerialOpen:
		return "SerialOpen"
	case ErrImageTooLarge:
		return "ImageTooLarge"
	case ErrImageEmpty:
		return "ImageEmpty"
	case ErrHandshakeTimeout:
		return "HandshakeTimeout"
	case ErrWrongAck:
		return "WrongAck"
	case ErrNak:
		return "Nak"
	case ErrCrcMismatch:
		return "CrcMismatch"
	case ErrResponseTruncated:
		return "ResponseTruncated"
	case ErrIo:
		return "IoError"
	default:
		return "None"
	}
}

// UploadError is the single error type every Upload failure surfaces as,
// carrying enough detail for the CLI (or any other caller) to report the
// precise observed bytes without re-deriving them.
type UploadError struct {
	Kind ErrorKind

	// ExpectedAck/GotAck are set for ErrWrongAck.
	ExpectedAck byte
	GotAck      byte

	// HostCrc/DeviceCrc are set for ErrCrcMismatch.
	HostCrc   uint32
	DeviceCrc uint32

	// Err is the underlying transport error, if any.
	Err error
}

func (e *UploadError) Error() string {
	switch e.Kind {
	case ErrWrongAck:
		return fmt.Sprintf("wrong ack: expected 0x%02x, got 0x%02x", e.ExpectedAck, e.GotAck)
	case ErrCrcMismatch:
		return fmt.Sprintf("crc mismatch: host=0x%08x device=0x%08x", e.HostCrc, e.DeviceCrc)
	case ErrNak:
		return "device rejected the session (NAK)"
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

func (e *UploadError) Unwrap() error { return e.Err }

func wrapIo(kind ErrorKind, err error) *UploadError {
	return &UploadError{Kind: kind, Err: err}
}

// Package uploader implements the host side of the firmware upload
// protocol (spec §4.2): it drives a pkg/transport.Port through the five
// wire stages (spec §4.1), waiting for the device's rotating ACK at every
// stage boundary, and reports a Result or a classified UploadError.
package uploader

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/librescoot/fwupload/pkg/crc32engine"
	"github.com/librescoot/fwupload/pkg/protocol"
	"github.com/librescoot/fwupload/pkg/transport"
)

// DefaultBaud is the link speed the device expects; it is not negotiable.
const DefaultBaud = 115200

// DefaultReadTimeout is the per-read timeout at every ACK-wait point
// (spec §4.2 step 4).
const DefaultReadTimeout = 2 * time.Second

// wakeupSettle is how long the driver waits after sending the textual
// wake-up sequence before draining echoed bytes (spec §4.2 step 2, open
// question 3).
const wakeupSettle = 300 * time.Millisecond

// Telemetry receives session lifecycle events. Implementations must not
// block meaningfully; a nil Telemetry is a valid no-op (spec's
// SUPPLEMENTED FEATURES: Redis publication is additive monitoring, never
// required for a session to complete).
type Telemetry interface {
	Progress(sessionID string, percent int)
	Result(sessionID string, ok bool, detail string)
}

// Options configures a single upload session.
type Options struct {
	Port    string
	Baud    int // 0 means DefaultBaud
	Verbose bool

	// ReadTimeout overrides DefaultReadTimeout; zero means the default.
	ReadTimeout time.Duration

	// Telemetry, if set, receives progress/result events. Optional.
	Telemetry Telemetry
	// SessionID labels telemetry events; defaults to the port name.
	SessionID string

	// openPort is overridden by tests to avoid touching a real serial
	// device; production callers should leave it nil.
	openPort func(name string, baud int) (transport.Port, error)
}

// Result describes a successful upload.
type Result struct {
	BytesSent int
	HostCRC   uint32
	DeviceCRC uint32
}

// Upload reads image (1 ≤ len ≤ protocol.MaxImageSize), opens the serial
// port named by opts.Port, and drives the full five-stage session (spec
// §4.1, §4.2). It returns a populated Result on a successful terminal ACK
// with matching CRCs, or a non-nil *UploadError otherwise. The serial port
// is always released before Upload returns, on every exit path.
func Upload(opts Options, image []byte) (Result, error) {
	if len(image) == 0 {
		return Result{}, &UploadError{Kind: ErrImageEmpty}
	}
	if len(image) > protocol.MaxImageSize {
		return Result{}, &UploadError{Kind: ErrImageTooLarge}
	}

	baud := opts.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	timeout := opts.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = opts.Port
	}

	openPort := opts.openPort
	if openPort == nil {
		openPort = transport.Open
	}

	port, err := openPort(opts.Port, baud)
	if err != nil {
		return Result{}, &UploadError{Kind: ErrSerialOpen, Err: err}
	}
	defer port.Close()

	sess := &session{
		port:      port,
		timeout:   timeout,
		verbose:   opts.Verbose,
		telemetry: opts.Telemetry,
		sessionID: sessionID,
		progress:  newProgressMeter(len(image)),
	}

	result, uerr := sess.run(image)
	if sess.telemetry != nil {
		if uerr != nil {
			sess.telemetry.Result(sessionID, false, uerr.Error())
		} else {
			sess.telemetry.Result(sessionID, true, fmt.Sprintf("crc=0x%08x", result.HostCRC))
		}
	}
	if uerr != nil {
		return Result{}, uerr
	}
	return result, nil
}

// session carries the mutable state of one upload attempt: the ACK counter
// the driver expects to see next, and the accounting the progress meter
// needs. It exists so Upload's public signature stays a single function
// call while the five stages share state without package-level variables
// (spec §9's "single owning record" guidance, applied host-side).
type session struct {
	port      transport.Port
	timeout   time.Duration
	verbose   bool
	telemetry Telemetry
	sessionID string
	progress  *progressMeter
	ackCount  int
}

func (s *session) log(format string, args ...interface{}) {
	if s.verbose {
		log.Printf(format, args...)
	}
}

func (s *session) reportProgress() {
	if s.telemetry != nil {
		s.telemetry.Progress(s.sessionID, s.progress.percent())
	}
	if !s.verbose {
		fmt.Printf("\r%s", s.progress.bar())
	}
}

// expectedAck returns the rotating ACK byte the driver expects for the
// stage it is about to wait on, without advancing the counter.
func (s *session) expectedAck() byte {
	return protocol.AckByte(s.ackCount)
}

func (s *session) tick() {
	s.ackCount++
}

// run drives the five stages in order, returning as soon as any stage
// fails.
func (s *session) run(image []byte) (Result, *UploadError) {
	if err := s.wakeUp(); err != nil {
		return Result{}, err
	}

	hostCRC := crc32engine.Checksum(image)
	s.log("host CRC-32: 0x%08x", hostCRC)

	if err := s.handshake(); err != nil {
		return Result{}, err
	}
	if err := s.sendSize(len(image)); err != nil {
		return Result{}, err
	}
	if err := s.sendPayload(image); err != nil {
		return Result{}, err
	}
	deviceCRC, err := s.sendCRC(hostCRC)
	if err != nil {
		return Result{}, err
	}

	s.reportProgress()
	if !s.verbose {
		fmt.Println()
	}

	return Result{BytesSent: len(image), HostCRC: hostCRC, DeviceCRC: deviceCRC}, nil
}

// wakeUp primes the link with the legacy textual wake-up sequence and
// drains whatever the device echoes back. Per spec §9 open question 3 this
// is an artifact the device loader is required to tolerate as leading
// noise, not a required part of a clean implementation; the driver still
// sends it for compatibility with loaders descended from the shell-based
// original.
func (s *session) wakeUp() *UploadError {
	if err := s.port.WriteAll([]byte("upload\r")); err != nil {
		return wrapIo(ErrIo, err)
	}
	if err := s.port.Drain(); err != nil {
		return wrapIo(ErrIo, err)
	}
	time.Sleep(wakeupSettle)
	if err := s.port.Purge(); err != nil {
		return wrapIo(ErrIo, err)
	}
	return nil
}

func (s *session) handshake() *UploadError {
	s.log("stage 1: handshake")
	if err := s.port.WriteAll([]byte{protocol.HandshakeByte}); err != nil {
		return wrapIo(ErrIo, err)
	}
	if err := s.port.Drain(); err != nil {
		return wrapIo(ErrIo, err)
	}
	return s.waitAck("handshake")
}

func (s *session) sendSize(n int) *UploadError {
	s.log("stage 2: size = %d", n)
	buf := make([]byte, protocol.SizeFieldLen)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	if err := s.port.WriteAll(buf); err != nil {
		return wrapIo(ErrIo, err)
	}
	if err := s.port.Drain(); err != nil {
		return wrapIo(ErrIo, err)
	}
	s.progress.add(len(buf))
	s.reportProgress()
	return s.waitAck("size")
}

func (s *session) sendPayload(image []byte) *UploadError {
	s.log("stage 3: payload, %d chunk(s)", protocol.ChunkCount(len(image)))
	for offset := 0; offset < len(image); offset += protocol.ChunkSize {
		end := offset + protocol.ChunkSize
		if end > len(image) {
			end = len(image)
		}
		chunk := image[offset:end]
		if err := s.port.WriteAll(chunk); err != nil {
			return wrapIo(ErrIo, err)
		}
		if err := s.port.Drain(); err != nil {
			return wrapIo(ErrIo, err)
		}
		s.progress.add(len(chunk))
		s.reportProgress()
		if err := s.waitAck(fmt.Sprintf("chunk[%d..%d)", offset, end)); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) sendCRC(hostCRC uint32) (uint32, *UploadError) {
	s.log("stage 4+5: crc command and value")
	if err := s.port.WriteAll([]byte{protocol.CRCCommandByte}); err != nil {
		return 0, wrapIo(ErrIo, err)
	}
	s.progress.add(1)
	buf := make([]byte, protocol.CRCFieldLen)
	binary.LittleEndian.PutUint32(buf, hostCRC)
	if err := s.port.WriteAll(buf); err != nil {
		return 0, wrapIo(ErrIo, err)
	}
	if err := s.port.Drain(); err != nil {
		return 0, wrapIo(ErrIo, err)
	}
	s.progress.add(len(buf))

	resp, err := s.port.ReadExact(protocol.TerminalResponseLen, s.timeout)
	if err != nil {
		if len(resp) > 0 {
			return 0, &UploadError{Kind: ErrResponseTruncated, Err: err}
		}
		return 0, &UploadError{Kind: ErrHandshakeTimeout, Err: err}
	}
	s.progress.add(len(resp))

	status := resp[0]
	deviceCRC := binary.LittleEndian.Uint32(resp[1:])

	if status == protocol.NAKByte {
		if deviceCRC != hostCRC {
			return deviceCRC, &UploadError{Kind: ErrCrcMismatch, HostCrc: hostCRC, DeviceCrc: deviceCRC}
		}
		return deviceCRC, &UploadError{Kind: ErrNak}
	}
	expected := s.expectedAck()
	if status != expected {
		return deviceCRC, &UploadError{Kind: ErrWrongAck, ExpectedAck: expected, GotAck: status}
	}
	s.tick()

	if deviceCRC != hostCRC {
		return deviceCRC, &UploadError{Kind: ErrCrcMismatch, HostCrc: hostCRC, DeviceCrc: deviceCRC}
	}
	return deviceCRC, nil
}

// waitAck blocks for a single rotating-ACK byte and validates it against
// the driver's own counter (spec §4.2 "Rotating ACK expectation").
func (s *session) waitAck(stage string) *UploadError {
	resp, err := s.port.ReadExact(1, s.timeout)
	if err != nil {
		return &UploadError{Kind: ErrHandshakeTimeout, Err: fmt.Errorf("%s: %w", stage, err)}
	}
	got := resp[0]
	if got == protocol.NAKByte {
		return &UploadError{Kind: ErrNak}
	}
	expected := s.expectedAck()
	if got != expected {
		return &UploadError{Kind: ErrWrongAck, ExpectedAck: expected, GotAck: got}
	}
	s.tick()
	s.log("%s: ack 0x%02x", stage, got)
	return nil
}

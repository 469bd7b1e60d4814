// Package transport abstracts the serial link the host driver speaks over,
// so pkg/uploader depends only on the small write_all/read_exact_with_timeout/
// drain/purge interface spec §9 calls for, never on go.bug.st/serial
// directly. The real implementation wraps go.bug.st/serial, which exposes
// per-call read timeouts and explicit input/output buffer resets -- the
// primitives the teacher's own declared-but-unused go.bug.st/serial
// dependency promised but pkg/usock never exercised.
package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// ErrTimeout is returned by ReadExact when the requested number of bytes
// did not arrive before the deadline.
var ErrTimeout = errors.New("transport: read timed out")

// Port is the blocking, synchronous transport the host driver depends on.
// Every method may be called from a single goroutine only; sessions are
// one-thread-per-session (spec §5).
type Port interface {
	// WriteAll writes the entirety of data as a single burst and returns
	// only once the OS has accepted all of it.
	WriteAll(data []byte) error

	// ReadExact blocks until exactly n bytes have been accumulated or
	// timeout elapses, whichever comes first. On timeout it returns the
	// bytes accumulated so far (which may be short) and ErrTimeout.
	ReadExact(n int, timeout time.Duration) ([]byte, error)

	// Drain blocks until the OS write buffer has been fully transmitted
	// onto the wire.
	Drain() error

	// Purge discards any bytes sitting in the OS input and output
	// buffers, used to flush stale or echoed bytes before a session
	// starts.
	Purge() error

	// Close releases the underlying serial device.
	Close() error
}

// serialPort is the real Port backed by an OS serial device, 8N1, no flow
// control, opened in raw mode.
type serialPort struct {
	port serial.Port
}

// Open acquires the named serial port at the given baud rate in 8N1,
// no-flow-control mode (spec §4.2 step 1).
func Open(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", name, err)
	}
	sp := &serialPort{port: p}
	if err := sp.Purge(); err != nil {
		p.Close()
		return nil, fmt.Errorf("transport: purge %s: %w", name, err)
	}
	return sp, nil
}

func (s *serialPort) WriteAll(data []byte) error {
	for len(data) > 0 {
		n, err := s.port.Write(data)
		if err != nil {
			return fmt.Errorf("transport: write: %w", err)
		}
		data = data[n:]
	}
	return nil
}

func (s *serialPort) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 0, n)
	deadline := time.Now().Add(timeout)
	one := make([]byte, n)
	for len(buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf, ErrTimeout
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return buf, fmt.Errorf("transport: set read timeout: %w", err)
		}
		r, err := s.port.Read(one[:n-len(buf)])
		if err != nil {
			if err == io.EOF {
				return buf, ErrTimeout
			}
			return buf, fmt.Errorf("transport: read: %w", err)
		}
		if r == 0 {
			return buf, ErrTimeout
		}
		buf = append(buf, one[:r]...)
	}
	return buf, nil
}

func (s *serialPort) Drain() error {
	if err := s.port.Drain(); err != nil {
		return fmt.Errorf("transport: drain: %w", err)
	}
	return nil
}

func (s *serialPort) Purge() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("transport: reset input buffer: %w", err)
	}
	if err := s.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("transport: reset output buffer: %w", err)
	}
	return nil
}

func (s *serialPort) Close() error {
	return s.port.Close()
}

// ListPorts enumerates serial ports available on the host, backing the
// CLI's -l/--list flag (spec §6).
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	return ports, nil
}

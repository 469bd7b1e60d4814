package statusch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/librescoot/fwupload/pkg/transport"
)

// pipePort is an in-memory transport.Port that reads whatever the peer end
// wrote, letting a Channel and a Responder talk to each other in-process
// without a real serial link.
type pipePort struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
}

func newPipePort() *pipePort {
	p := &pipePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipePort) WriteAll(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, data...)
	p.cond.Broadcast()
	return nil
}

func (p *pipePort) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) < n {
		if time.Now().After(deadline) {
			return nil, transport.ErrTimeout
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
	}
	out := p.buf[:n]
	p.buf = p.buf[n:]
	return out, nil
}

func (p *pipePort) Drain() error { return nil }
func (p *pipePort) Purge() error { return nil }
func (p *pipePort) Close() error { return nil }

// pair links two pipePorts so writes on one are reads on the other, giving
// a host Channel and a device Responder independent views of one wire.
type pair struct {
	hostToDevice *pipePort
	deviceToHost *pipePort
}

func newPair() *pair {
	return &pair{hostToDevice: newPipePort(), deviceToHost: newPipePort()}
}

type sidePort struct {
	write *pipePort
	read  *pipePort
}

func (s *sidePort) WriteAll(data []byte) error { return s.write.WriteAll(data) }
func (s *sidePort) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	return s.read.ReadExact(n, timeout)
}
func (s *sidePort) Drain() error { return nil }
func (s *sidePort) Purge() error { return nil }
func (s *sidePort) Close() error { return nil }

func (p *pair) hostSide() transport.Port {
	return &sidePort{write: p.hostToDevice, read: p.deviceToHost}
}

func (p *pair) deviceSide() transport.Port {
	return &sidePort{write: p.deviceToHost, read: p.hostToDevice}
}

func TestQueryVersionRoundTrip(t *testing.T) {
	link := newPair()
	want := DeviceInfo{LoaderVersion: "1.2.3", LastResultOK: true, LastResult: "crc=0xdeadbeef"}

	responder := NewResponder(link.deviceSide(), func() DeviceInfo { return want })
	errCh := make(chan error, 1)
	go func() { errCh <- responder.ServeOne(2 * time.Second) }()

	channel := NewChannel(link.hostSide(), 2*time.Second)
	got, err := channel.Query(QueryVersion)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, want, got)
}

func TestQueryLastResultRoundTrip(t *testing.T) {
	link := newPair()
	want := DeviceInfo{LastResultOK: false, LastResult: "crc-mismatch"}

	responder := NewResponder(link.deviceSide(), func() DeviceInfo { return want })
	errCh := make(chan error, 1)
	go func() { errCh <- responder.ServeOne(2 * time.Second) }()

	channel := NewChannel(link.hostSide(), 2*time.Second)
	got, err := channel.Query(QueryLastResult)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, want, got)
}

func TestResponderTimesOutWithoutAQuery(t *testing.T) {
	link := newPair()
	responder := NewResponder(link.deviceSide(), func() DeviceInfo { return DeviceInfo{} })
	require.Error(t, responder.ServeOne(10*time.Millisecond))
}

func TestCRC16KnownValue(t *testing.T) {
	// CRC-16/ARC of the ASCII string "123456789" is the well-known check
	// value 0xBB3D, a standard conformance vector for this polynomial.
	require.Equal(t, uint16(0xBB3D), crc16([]byte("123456789")))
}

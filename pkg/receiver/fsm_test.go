package receiver

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/librescoot/fwupload/pkg/crc32engine"
	"github.com/librescoot/fwupload/pkg/protocol"
)

// buildStream assembles the full wire stream for one session (spec §4.1):
// handshake, little-endian size, payload, CRC command, little-endian CRC.
// If crcOverride is non-nil it is sent in place of the image's true CRC, to
// exercise the CRC-mismatch path.
func buildStream(image []byte, crcOverride *uint32) []byte {
	var buf []byte
	buf = append(buf, protocol.HandshakeByte)

	size := make([]byte, protocol.SizeFieldLen)
	binary.LittleEndian.PutUint32(size, uint32(len(image)))
	buf = append(buf, size...)

	buf = append(buf, image...)

	buf = append(buf, protocol.CRCCommandByte)
	crc := crc32engine.Checksum(image)
	if crcOverride != nil {
		crc = *crcOverride
	}
	crcBuf := make([]byte, protocol.CRCFieldLen)
	binary.LittleEndian.PutUint32(crcBuf, crc)
	buf = append(buf, crcBuf...)
	return buf
}

// buildSizeOnlyStream builds a stream that stops after the size field,
// since a device that rejects the size never reads payload bytes.
func buildSizeOnlyStream(n uint32) []byte {
	var buf []byte
	buf = append(buf, protocol.HandshakeByte)
	size := make([]byte, protocol.SizeFieldLen)
	binary.LittleEndian.PutUint32(size, n)
	buf = append(buf, size...)
	return buf
}

func runWith(t *testing.T, fifoCap int, stream []byte) (Outcome, *Device, *WordMemoryBuffer, *LoopbackUART) {
	t.Helper()
	fifo := NewInMemoryFIFO(fifoCap)
	n := fifo.PushAll(stream)
	require.Equal(t, len(stream), n, "FIFO capacity too small for test stream")

	uart := NewLoopbackUART()
	mem := NewWordMemoryBuffer()
	dev := NewDevice()
	outcome := RunSession(dev, fifo, uart, mem)
	return outcome, dev, mem, uart
}

func TestSmallSuccessLiteralExample(t *testing.T) {
	image := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	stream := buildStream(image, nil)

	outcome, dev, mem, uart := runWith(t, 256, stream)

	require.Equal(t, OutcomeSuccess, outcome, "nak reason: %s", dev.NAKReason())
	require.Equal(t, image, mem.Bytes(len(image)))
	require.Equal(t, uint32(0x7C9CA35A), dev.ComputedCRC())

	// A (handshake), B (size), C (chunk 1 / only chunk), D (terminal
	// success) followed by the little-endian CRC echo (spec scenario 1).
	want := []byte{'A', 'B', 'C', 'D', 0x5A, 0xA3, 0x9C, 0x7C}
	require.Equal(t, want, uart.Sent())
}

func TestEmptyImageRejection(t *testing.T) {
	stream := buildSizeOnlyStream(0)
	outcome, dev, _, uart := runWith(t, 256, stream)

	require.Equal(t, OutcomeFailure, outcome)
	require.Equal(t, protocol.NAKReasonSizeZero, dev.NAKReason())
	require.Equal(t, []byte{'A', protocol.NAKByte, 0x00, 0x00, 0x00, 0x00}, uart.Sent())
}

func TestOversizeRejection(t *testing.T) {
	stream := buildSizeOnlyStream(protocol.MaxImageSize + 1)
	outcome, dev, _, uart := runWith(t, 256, stream)

	require.Equal(t, OutcomeFailure, outcome)
	require.Equal(t, protocol.NAKReasonSizeTooLarge, dev.NAKReason())
	require.Zero(t, dev.BytesReceived(), "no payload bytes should be consumed")

	sent := uart.Sent()
	require.Len(t, sent, 6)
	require.Equal(t, protocol.NAKByte, sent[1])
}

func TestCRCMismatch(t *testing.T) {
	image := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	wrongCRC := uint32(0x12345678)
	stream := buildStream(image, &wrongCRC)

	outcome, dev, _, _ := runWith(t, 256, stream)

	require.Equal(t, OutcomeFailure, outcome)
	require.Equal(t, protocol.NAKReasonCRCMismatch, dev.NAKReason())
}

// TestOddTrailingByte exercises N=1, N=63, N=64 and N=65: boundary cases
// around one full chunk and an odd final byte that must be zero-padded
// into its own word (spec §8).
func TestOddTrailingByte(t *testing.T) {
	for _, n := range []int{1, 63, 64, 65} {
		n := n
		t.Run("", func(t *testing.T) {
			image := make([]byte, n)
			for i := range image {
				image[i] = byte(i + 1)
			}
			stream := buildStream(image, nil)
			outcome, dev, mem, _ := runWith(t, len(stream)+16, stream)
			require.Equalf(t, OutcomeSuccess, outcome, "n=%d, nak reason %s", n, dev.NAKReason())
			require.Equal(t, image, mem.Bytes(n))
		})
	}
}

// TestRotatingAckWraparound exercises an image long enough to require more
// than 26 chunk ACKs, so the ACK alphabet must wrap from 'Z' back to 'A'
// (spec §3's modulo-26 counter, P6).
func TestRotatingAckWraparound(t *testing.T) {
	n := protocol.ChunkSize * 30 // 30 chunks -> 33 total ACKs (handshake+size+30 chunks+terminal)
	image := make([]byte, n)
	for i := range image {
		image[i] = byte(i)
	}
	stream := buildStream(image, nil)
	outcome, dev, mem, uart := runWith(t, len(stream)+16, stream)

	require.Equalf(t, OutcomeSuccess, outcome, "nak reason: %s", dev.NAKReason())
	require.Equal(t, image, mem.Bytes(n))

	sent := uart.Sent()
	// Chunk ACKs are the 3rd through 32nd transmitted bytes (after
	// handshake 'A' and size 'B'); the 25th chunk ACK (counter 26) must
	// wrap back to 'A'.
	chunkAcks := sent[2:32]
	require.Equal(t, byte('C'), chunkAcks[0], "first chunk ack")
	require.Equal(t, byte('Z'), chunkAcks[23], "24th chunk ack (counter 25)")
	require.Equal(t, byte('A'), chunkAcks[24], "25th chunk ack (counter 26) must wrap")
}

func TestInactivityTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real-time inactivity timeout test in short mode")
	}
	fifo := NewInMemoryFIFO(256)
	fifo.Push(protocol.HandshakeByte)
	uart := NewLoopbackUART()
	mem := NewWordMemoryBuffer()
	dev := NewDevice()

	start := time.Now()
	outcome := RunSession(dev, fifo, uart, mem)
	elapsed := time.Since(start)

	require.Equal(t, OutcomeFailure, outcome)
	require.Equal(t, protocol.NAKReasonTimeout, dev.NAKReason())
	require.GreaterOrEqual(t, elapsed, InactivityTimeout)
}

func TestWriteSubsystemFailureNAKs(t *testing.T) {
	image := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	stream := buildStream(image, nil)
	fifo := NewInMemoryFIFO(256)
	fifo.PushAll(stream)
	uart := NewLoopbackUART()
	mem := NewWordMemoryBuffer()
	mem.Fail = true
	dev := NewDevice()

	outcome := RunSession(dev, fifo, uart, mem)
	require.Equal(t, OutcomeFailure, outcome)
	require.Equal(t, protocol.NAKReasonReceiverError, dev.NAKReason())
}

func TestRunForeverStopsOnCallback(t *testing.T) {
	image := []byte{1, 2, 3, 4}
	stream := buildStream(image, nil)
	fifo := NewInMemoryFIFO(len(stream) + 16)
	fifo.PushAll(stream)
	uart := NewLoopbackUART()
	mem := NewWordMemoryBuffer()
	dev := NewDevice()

	calls := 0
	RunForever(dev, fifo, uart, mem, func(o Outcome) bool {
		calls++
		return false
	})
	require.Equal(t, 1, calls)
}

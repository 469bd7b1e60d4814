// Package receiver implements the device-side upload receiver FSM (spec
// §4.3): a clock-free, single-threaded state machine that drains a bounded
// FIFO, writes payload bytes into a word-addressed memory region, folds a
// streaming CRC-32 in 32-bit groups, and signals a success/failure
// terminal response. It is expressed as a tagged variant over State with
// each field owned by exactly one writer, per spec §9's design notes, and
// it never panics: every failure path is an explicit transition to ERROR.
package receiver

import (
	"encoding/binary"

	"github.com/librescoot/fwupload/pkg/crc32engine"
	"github.com/librescoot/fwupload/pkg/protocol"
)

// State is one node of the receiver FSM (spec §4.3's diagram).
type State int

const (
	StateIdle State = iota
	StateWaitReady
	StateRecvSize
	StateCheckSize
	StateRecvData
	StateStoreWord
	StateRecvCRCCmd
	StateRecvCRC
	StateVerifyCRC
	StateSendAck
	StateSendNak
	StateSendCRCEcho
	StateWaitTxDone
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaitReady:
		return "WAIT_READY"
	case StateRecvSize:
		return "RECV_SIZE"
	case StateCheckSize:
		return "CHECK_SIZE"
	case StateRecvData:
		return "RECV_DATA"
	case StateStoreWord:
		return "STORE_WORD"
	case StateRecvCRCCmd:
		return "RECV_CRC_CMD"
	case StateRecvCRC:
		return "RECV_CRC"
	case StateVerifyCRC:
		return "VERIFY_CRC"
	case StateSendAck:
		return "SEND_ACK"
	case StateSendNak:
		return "SEND_NAK"
	case StateSendCRCEcho:
		return "SEND_CRC_ECHO"
	case StateWaitTxDone:
		return "WAIT_TX_DONE"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsReceiving reports whether s is a state in which the FSM is waiting on
// a FIFO byte; the inactivity timer only runs in these states (spec §5).
func (s State) IsReceiving() bool {
	switch s {
	case StateWaitReady, StateRecvSize, StateRecvData, StateRecvCRCCmd, StateRecvCRC:
		return true
	default:
		return false
	}
}

// Device owns every piece of mutable FSM state in one record, passed
// through transitions rather than reached for as package-level globals
// (spec §9).
type Device struct {
	State State

	ackCounter    int
	bytesReceived uint32
	wordAddr      uint32
	declaredSize  uint32

	crc      *crc32engine.Engine
	groupBuf [4]byte
	groupPos int

	chunkByteCounter int
	pendingLowByte   byte
	haveLowByte      bool
	pendingWord      uint16

	sizeBuf      [4]byte
	sizeBytes    int
	crcBuf       [4]byte
	crcBytes     int
	expectedCRC  uint32

	nakReason protocol.NAKReason
	success   bool
	statusByte byte
	echoBuf    [protocol.TerminalResponseLen]byte
	echoIndex  int
}

// NewDevice returns a Device at IDLE, ready to begin a session.
func NewDevice() *Device {
	d := &Device{}
	d.reset()
	return d
}

// reset clears every per-session field (the IDLE → WAIT_READY transition
// of spec §4.3: "clears the ACK counter, bytes-received counter, word
// address, declared-size register, CRC register, byte-in-word flag").
func (d *Device) reset() {
	d.State = StateIdle
	d.ackCounter = 0
	d.bytesReceived = 0
	d.wordAddr = 0
	d.declaredSize = 0
	d.crc = crc32engine.New()
	d.groupPos = 0
	d.chunkByteCounter = 0
	d.haveLowByte = false
	d.sizeBytes = 0
	d.crcBytes = 0
	d.expectedCRC = 0
	d.nakReason = protocol.NAKReasonNone
	d.success = false
	d.echoIndex = 0
}

// Start is the external start signal: IDLE → WAIT_READY.
func (d *Device) Start() {
	d.reset()
	d.State = StateWaitReady
}

// nextAck returns the next rotating ACK byte and advances the counter, the
// single tick-and-emit primitive every "ticks" edge in spec §4.3 uses.
func (d *Device) nextAck() byte {
	b := protocol.AckByte(d.ackCounter)
	d.ackCounter++
	return b
}

// foldByte feeds one received byte into the streaming CRC-32 engine, in
// 32-bit receive-order groups (spec §4.3, §4.4).
func (d *Device) foldByte(b byte) {
	d.groupBuf[d.groupPos] = b
	d.groupPos++
	if d.groupPos == 4 {
		d.crc.UpdateGroup(d.groupBuf)
		d.groupPos = 0
	}
}

// finalizeCRC folds any partial trailing group, zero-padded on the right,
// per spec §4.3's streaming-CRC rule and §9's open question 2. It is
// idempotent: once the partial group has been folded, groupPos is 0 and a
// second call is a no-op.
func (d *Device) finalizeCRC() {
	if d.groupPos == 0 {
		return
	}
	for i := d.groupPos; i < 4; i++ {
		d.groupBuf[i] = 0
	}
	d.crc.UpdateGroup(d.groupBuf)
	d.groupPos = 0
}

// failSession records a NAK reason and the device's CRC as computed so
// far (finalizing any partial group first), then moves to SEND_NAK.
func (d *Device) failSession(reason protocol.NAKReason) {
	d.finalizeCRC()
	d.nakReason = reason
	d.success = false
	d.State = StateSendNak
}

// Advance performs exactly one meaningful FSM step: it either consumes one
// FIFO byte (in a receiving state), performs one internal transition
// (CHECK_SIZE, STORE_WORD, VERIFY_CRC), sends one UART byte
// (SEND_ACK/SEND_NAK/SEND_CRC_ECHO), or polls the UART's TxBusy flag
// (WAIT_TX_DONE). It returns pulled=true if
// a FIFO byte was consumed this call, which the caller (Run) uses to reset
// the inactivity timer.
func (d *Device) Advance(fifo FIFO, uart UART, mem WordMemory) (pulled bool, err error) {
	switch d.State {
	case StateIdle:
		return false, nil

	case StateWaitReady:
		b, ok := fifo.Pull()
		if !ok {
			return false, nil
		}
		if b == protocol.HandshakeByte {
			uart.Send(d.nextAck())
			d.State = StateRecvSize
		}
		return true, nil

	case StateRecvSize:
		b, ok := fifo.Pull()
		if !ok {
			return false, nil
		}
		d.sizeBuf[d.sizeBytes] = b
		d.sizeBytes++
		if d.sizeBytes == protocol.SizeFieldLen {
			d.declaredSize = binary.LittleEndian.Uint32(d.sizeBuf[:])
			d.sizeBytes = 0
			d.State = StateCheckSize
		}
		return true, nil

	case StateCheckSize:
		switch {
		case d.declaredSize == 0:
			d.failSession(protocol.NAKReasonSizeZero)
		case d.declaredSize > protocol.MaxImageSize:
			d.failSession(protocol.NAKReasonSizeTooLarge)
		default:
			uart.Send(d.nextAck())
			d.State = StateRecvData
		}
		return false, nil

	case StateRecvData:
		b, ok := fifo.Pull()
		if !ok {
			return false, nil
		}
		d.foldByte(b)
		d.bytesReceived++

		var word uint16
		wordReady := false
		if !d.haveLowByte {
			if d.bytesReceived == d.declaredSize {
				// Odd trailing byte: high half zero-padded.
				word = uint16(b)
				wordReady = true
			} else {
				d.pendingLowByte = b
				d.haveLowByte = true
			}
		} else {
			word = uint16(d.pendingLowByte) | uint16(b)<<8
			d.haveLowByte = false
			wordReady = true
		}

		d.chunkByteCounter++
		if wordReady {
			d.pendingWord = word
			d.State = StateStoreWord
		}
		return true, nil

	case StateStoreWord:
		if werr := mem.WriteWord(d.wordAddr, d.pendingWord); werr != nil {
			d.failSession(protocol.NAKReasonReceiverError)
			return false, nil
		}
		d.wordAddr++
		switch {
		case d.bytesReceived == d.declaredSize:
			uart.Send(d.nextAck())
			d.finalizeCRC()
			d.State = StateRecvCRCCmd
		case d.chunkByteCounter >= protocol.ChunkSize:
			uart.Send(d.nextAck())
			d.chunkByteCounter = 0
			d.State = StateRecvData
		default:
			d.State = StateRecvData
		}
		return false, nil

	case StateRecvCRCCmd:
		b, ok := fifo.Pull()
		if !ok {
			return false, nil
		}
		if b != protocol.CRCCommandByte {
			d.failSession(protocol.NAKReasonProtocolViolation)
			return true, nil
		}
		d.State = StateRecvCRC
		return true, nil

	case StateRecvCRC:
		b, ok := fifo.Pull()
		if !ok {
			return false, nil
		}
		d.crcBuf[d.crcBytes] = b
		d.crcBytes++
		if d.crcBytes == protocol.CRCFieldLen {
			d.expectedCRC = binary.LittleEndian.Uint32(d.crcBuf[:])
			d.crcBytes = 0
			d.State = StateVerifyCRC
		}
		return true, nil

	case StateVerifyCRC:
		if d.crc.Sum32() == d.expectedCRC {
			d.success = true
			d.statusByte = d.nextAck()
			d.State = StateSendAck
		} else {
			d.nakReason = protocol.NAKReasonCRCMismatch
			d.success = false
			d.State = StateSendNak
		}
		return false, nil

	case StateSendAck:
		uart.Send(d.statusByte)
		d.prepareEcho()
		d.State = StateSendCRCEcho
		return false, nil

	case StateSendNak:
		uart.Send(protocol.NAKByte)
		d.prepareEcho()
		d.State = StateSendCRCEcho
		return false, nil

	case StateSendCRCEcho:
		uart.Send(d.echoBuf[1+d.echoIndex])
		d.echoIndex++
		if d.echoIndex == protocol.CRCFieldLen {
			d.State = StateWaitTxDone
		}
		return false, nil

	case StateWaitTxDone:
		if uart.TxBusy() {
			return false, nil
		}
		if d.success {
			d.State = StateComplete
		} else {
			d.State = StateError
		}
		return false, nil

	case StateComplete, StateError:
		return false, nil

	default:
		return false, nil
	}
}

// prepareEcho assembles the little-endian device CRC that follows the
// status byte in both the ACK and NAK terminal responses (spec §4.1 stage
// 5, §4.3 SEND_CRC_ECHO).
func (d *Device) prepareEcho() {
	binary.LittleEndian.PutUint32(d.echoBuf[1:], d.crc.Sum32())
	d.echoIndex = 0
}

// NAKReason returns the reason the most recent session failed, valid once
// State is StateError (or SendNak/SendCRCEcho/WaitTxDone on the failure
// path).
func (d *Device) NAKReason() protocol.NAKReason { return d.nakReason }

// BytesReceived reports the number of payload bytes accepted so far.
func (d *Device) BytesReceived() uint32 { return d.bytesReceived }

// ComputedCRC returns the device's CRC-32 register as finalized so far.
func (d *Device) ComputedCRC() uint32 { return d.crc.Sum32() }

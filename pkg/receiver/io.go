package receiver

// FIFO is the bounded single-byte pull interface the device drains (spec
// §1: "the bounded RX FIFO treated as a single-byte pull interface with an
// empty flag"). Pull returns ok=false when the FIFO currently has nothing
// buffered; it must never block.
type FIFO interface {
	Pull() (b byte, ok bool)
}

// UART is the byte-out transport the FSM writes its responses to (spec
// §1: "the UART peripheral treated as a byte-in/byte-out transport with a
// ready-bit status register"). Send enqueues one byte for transmission;
// TxBusy reports whether the peripheral is still shifting a previously
// enqueued byte out, so WAIT_TX_DONE can hold until transmission has
// fully drained (spec §4.3, §5's post-transfer handoff requirement).
type UART interface {
	Send(b byte)
	TxBusy() bool
}

// WordMemory is the word-addressed memory region the receiver writes
// payload bytes into (spec §1: "writes of word W to address A complete in
// a bounded number of cycles and signal ready"). WriteWord blocks until
// the write has completed (the ready signal, folded into the call
// returning) and reports an error if the underlying writer fails.
type WordMemory interface {
	WriteWord(addr uint32, word uint16) error
}

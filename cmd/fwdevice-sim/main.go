// Command fwdevice-sim is a reference device-side harness: it runs the
// same pkg/receiver FSM a real microcontroller loader would run, but over
// a real host serial port (e.g. the far end of a socat/tty0tty loopback
// pair), so the host driver (cmd/fwupload) can be exercised end-to-end
// without real hardware. It is demo/test tooling, not part of the core
// protocol (spec §1 treats the device side as a state machine over
// interfaces; this is one concrete wiring of those interfaces).
package main

import (
	"flag"
	"log"
	"time"

	"github.com/librescoot/fwupload/pkg/receiver"
	"github.com/librescoot/fwupload/pkg/transport"
)

var (
	portFlag = flag.String("port", "", "Serial port to listen on")
	baudFlag = flag.Int("baud", 115200, "Baud rate")
)

// portUART adapts a transport.Port into receiver.UART: every Send blocks
// until the OS has accepted the byte, and TxBusy reports whether the
// byte(s) written since the last check have fully drained onto the wire
// -- the simulation harness's stand-in for the peripheral's ready-bit
// register (spec §1).
type portUART struct {
	port    transport.Port
	pending bool
}

func (u *portUART) Send(b byte) {
	if err := u.port.WriteAll([]byte{b}); err != nil {
		log.Printf("uart send error: %v", err)
	}
	u.pending = true
}

func (u *portUART) TxBusy() bool {
	if !u.pending {
		return false
	}
	if err := u.port.Drain(); err != nil {
		log.Printf("uart drain error: %v", err)
	}
	u.pending = false
	return false
}

// feedFIFO continuously reads single bytes off port and pushes them into
// fifo, modeling the UART peripheral depositing received bytes into the
// bounded RX FIFO (spec §1).
func feedFIFO(port transport.Port, fifo *receiver.InMemoryFIFO) {
	for {
		b, err := port.ReadExact(1, 24*time.Hour)
		if err != nil {
			continue
		}
		fifo.Push(b[0])
	}
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	flag.Parse()

	if *portFlag == "" {
		log.Fatal("-port is required")
	}

	port, err := transport.Open(*portFlag, *baudFlag)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *portFlag, err)
	}
	defer port.Close()

	fifo := receiver.NewInMemoryFIFO(256)
	uart := &portUART{port: port}
	mem := receiver.NewWordMemoryBuffer()
	dev := receiver.NewDevice()

	go feedFIFO(port, fifo)

	// The status side channel (pkg/statusch) is not multiplexed onto
	// this same wire here: it and the upload FSM would both need to
	// read the single physical port, and arbitrating between "is this
	// byte a status query or a session handshake" is a real device's
	// job, not this demo harness's. statusch is exercised directly by
	// its own tests instead (an in-process host Channel against a
	// device Responder).
	log.Printf("device simulator listening on %s at %d baud", *portFlag, *baudFlag)

	receiver.RunForever(dev, fifo, uart, mem, func(outcome receiver.Outcome) bool {
		if outcome == receiver.OutcomeSuccess {
			log.Printf("session complete: %d bytes, crc=0x%08x", dev.BytesReceived(), dev.ComputedCRC())
		} else {
			log.Printf("session failed: reason=%s bytes_received=%d", dev.NAKReason(), dev.BytesReceived())
		}
		return true
	})
}

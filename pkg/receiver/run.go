package receiver

import (
	"time"

	"github.com/librescoot/fwupload/pkg/protocol"
)

// InactivityTimeout is the nominal device inactivity timer (spec §5,
// "≈1 second at the system clock rate").
const InactivityTimeout = 1 * time.Second

// ErrorDwell is how long the FSM lingers in ERROR before returning to IDLE
// (spec §4.3: "ERROR → IDLE after a fixed dwell").
const ErrorDwell = 10 * time.Millisecond

// pollInterval is how often Run polls an empty FIFO. The real hardware
// FSM is clocked every cycle; this is the Go simulation's stand-in for
// that periodic clock (spec §5).
const pollInterval = 100 * time.Microsecond

// Outcome is the terminal result of one session.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// RunSession drives dev through exactly one session, from Start() to
// COMPLETE or ERROR, pumping bytes out of fifo, through the FSM, and acks
// out uart, writing payload words into mem. It blocks until the session
// reaches a terminal state.
func RunSession(dev *Device, fifo FIFO, uart UART, mem WordMemory) Outcome {
	dev.Start()
	lastByte := time.Now()

	for {
		switch dev.State {
		case StateComplete:
			return OutcomeSuccess
		case StateError:
			return OutcomeFailure
		}

		wasReceiving := dev.State.IsReceiving()
		pulled, _ := dev.Advance(fifo, uart, mem)

		if wasReceiving {
			if pulled {
				lastByte = time.Now()
			} else if time.Since(lastByte) >= InactivityTimeout {
				dev.failSession(protocol.NAKReasonTimeout)
				continue
			}
		}

		if !pulled {
			time.Sleep(pollInterval)
		}
	}
}

// RunForever repeatedly calls RunSession on a fresh session each time the
// previous one reaches a terminal state, modeling the resident loader
// that never relinquishes control except on a successful transfer (spec
// §5: "the loader relinquishes the CPU" only on COMPLETE). onOutcome is
// called after every session with the terminal state reached; it returns
// false to stop the loop (e.g. once the simulated device has taken control
// transfer and will not return).
func RunForever(dev *Device, fifo FIFO, uart UART, mem WordMemory, onOutcome func(Outcome) bool) {
	for {
		outcome := RunSession(dev, fifo, uart, mem)
		if outcome == OutcomeFailure {
			time.Sleep(ErrorDwell)
		}
		if onOutcome != nil && !onOutcome(outcome) {
			return
		}
	}
}

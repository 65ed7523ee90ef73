package intake

import "context"

const uiQueueSize = 16

// UIIntake accumulates intake messages submitted from the operator UI
// (one HTTP POST per DUT, or a single POST carrying the whole position
// set) over a buffered channel. Submit never blocks the caller: a full
// queue drops its oldest pending message, since only the most recent
// control-panel state matters once a run is about to start.
type UIIntake struct {
	positions    []string
	sequenceDuts SequenceDuts
	messages     chan []byte
}

// NewUIIntake creates a UIIntake for the station's configured test
// positions. sequenceDuts may be nil if the station never declares a DUT
// count in a sequence manifest.
func NewUIIntake(positions []string, sequenceDuts SequenceDuts) *UIIntake {
	return &UIIntake{
		positions:    positions,
		sequenceDuts: sequenceDuts,
		messages:     make(chan []byte, uiQueueSize),
	}
}

// Submit enqueues a raw control-event message for the intake loop to
// consume. Called from the HTTP/websocket handler that receives operator
// input; never blocks.
func (u *UIIntake) Submit(raw []byte) {
	select {
	case u.messages <- raw:
		return
	default:
	}

	select {
	case <-u.messages:
	default:
	}

	select {
	case u.messages <- raw:
	default:
	}
}

// Run blocks until either a complete set of serials has been accumulated or
// ctx is cancelled. Malformed messages are silently dropped; the loop keeps
// waiting for a corrected one.
func (u *UIIntake) Run(ctx context.Context) (*Accumulated, error) {
	acc := newAccumulated()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case raw := <-u.messages:
			delta, err := parseMessage(raw)
			if err != nil {
				continue
			}

			acc.merge(delta)

			if acc.complete(u.positions, u.sequenceDuts) {
				return acc, nil
			}
		}
	}
}

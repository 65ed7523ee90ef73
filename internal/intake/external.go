package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/jotautomation/iris/internal/control"
)

// ExternalIntake consumes the control-event stream published by an
// external caller (a line-controller integration, a MES) over Kafka.
// Unlike UIIntake, every message is validated before being folded into the
// accumulated state: a message that fails validation is rejected and
// logged, and the consumer keeps waiting for a corrected one rather than
// failing the run.
type ExternalIntake struct {
	reader       *kafka.Reader
	positions    []string
	sequenceDuts SequenceDuts
	logger       *slog.Logger
}

// NewExternalIntake creates an ExternalIntake reading from the topic
// described by cfg. The caller owns cfg.GroupID / cfg.Brokers; cfg.Topic is
// the station's control-event topic.
func NewExternalIntake(cfg kafka.ReaderConfig, positions []string, sequenceDuts SequenceDuts, logger *slog.Logger) *ExternalIntake {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExternalIntake{
		reader:       kafka.NewReader(cfg),
		positions:    positions,
		sequenceDuts: sequenceDuts,
		logger:       logger,
	}
}

// Close releases the underlying Kafka reader.
func (e *ExternalIntake) Close() error {
	return e.reader.Close()
}

// Run blocks until a validated message (or sequence of them) satisfies the
// completion criteria, or ctx is cancelled.
func (e *ExternalIntake) Run(ctx context.Context) (*Accumulated, error) {
	acc := newAccumulated()

	for {
		m, err := e.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}

			return nil, fmt.Errorf("reading control-event stream: %w", err)
		}

		delta, perr := parseMessage(m.Value)
		if perr != nil {
			continue
		}

		if verr := validateExternal(delta); verr != nil {
			e.logger.Warn("rejected external intake message", "error", verr, "offset", m.Offset)
			continue
		}

		acc.merge(delta)

		if acc.complete(e.positions, e.sequenceDuts) {
			return acc, nil
		}
	}
}

// validateExternal enforces the extra rules an external caller must
// satisfy that the UI intake does not: at least one serial present, every
// serial unique, and every populated position's declared sequence (when
// given per-position) agreeing with the others.
func validateExternal(delta *Accumulated) error {
	seen := make(map[string]bool, len(delta.Serials))
	count := 0

	for _, sn := range delta.Serials {
		if sn == "" {
			continue
		}

		count++

		if seen[sn] {
			return fmt.Errorf("%w: duplicate serial number %q", control.ErrIntakeRejected, sn)
		}

		seen[sn] = true
	}

	if count == 0 {
		return fmt.Errorf("%w: no serial numbers present", control.ErrIntakeRejected)
	}

	var want string

	for pos, sn := range delta.Serials {
		if sn == "" {
			continue
		}

		seq := delta.PositionSequence[pos]
		if seq == "" {
			continue
		}

		if want == "" {
			want = seq
			continue
		}

		if seq != want {
			return fmt.Errorf("%w: positions declare different sequences (%q vs %q)", control.ErrIntakeRejected, want, seq)
		}
	}

	return nil
}

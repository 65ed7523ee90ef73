package config

import (
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/jotautomation/iris/internal/intake"
	"github.com/jotautomation/iris/internal/orchestrator"
)

// ExternalIntakeConfig carries the Kafka connection details for the
// external-caller control-event stream; only read when StationSettings
// says SNExternally.
type ExternalIntakeConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// noopCloser satisfies io.Closer for the intake variants that own no
// external resource.
type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// BuildIntake constructs the single active orchestrator.Intake the
// station's configuration selects. Exactly one of SNFromUI / SNExternally
// / SNFromInstrument must be true; call Validate first to guarantee that.
//
// instrumentSource is only consulted when SNFromInstrument is set; it is
// the station's configured PLC/vision driver, owned by the caller.
func BuildIntake(
	s *StationSettings,
	sequenceDuts intake.SequenceDuts,
	externalCfg ExternalIntakeConfig,
	instrumentSource intake.InstrumentSource,
	sequenceNames []string,
	logger *slog.Logger,
) (orchestrator.Intake, interface{ Close() error }, error) {
	switch {
	case s.SNExternally:
		reader := kafka.ReaderConfig{
			Brokers: externalCfg.Brokers,
			Topic:   externalCfg.Topic,
			GroupID: externalCfg.GroupID,
		}

		in := intake.NewExternalIntake(reader, s.TestPositions, sequenceDuts, logger)

		return in, in, nil

	case s.SNFromInstrument:
		in := intake.NewInstrumentIntake(instrumentSource, s.TestPositions, sequenceNames, sequenceDuts)

		return in, noopCloser{}, nil

	default:
		in := intake.NewUIIntake(s.TestPositions, sequenceDuts)

		return in, noopCloser{}, nil
	}
}

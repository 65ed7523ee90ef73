package config

import (
	"context"
	"testing"

	"github.com/jotautomation/iris/internal/intake"
)

func TestBuildIntakeSelectsUIByDefault(t *testing.T) {
	settings := defaultStationSettings()
	settings.TestPositions = []string{"pos1"}

	in, closer, err := BuildIntake(settings, nil, ExternalIntakeConfig{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("BuildIntake: %v", err)
	}

	if _, ok := in.(*intake.UIIntake); !ok {
		t.Errorf("got %T, want *intake.UIIntake", in)
	}

	if err := closer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBuildIntakeSelectsExternal(t *testing.T) {
	settings := defaultStationSettings()
	settings.TestPositions = []string{"pos1"}
	settings.SNFromUI = false
	settings.SNExternally = true

	in, closer, err := BuildIntake(
		settings, nil,
		ExternalIntakeConfig{Brokers: []string{"localhost:9092"}, Topic: "control-events", GroupID: "sequencer"},
		nil, nil, nil,
	)
	if err != nil {
		t.Fatalf("BuildIntake: %v", err)
	}

	if _, ok := in.(*intake.ExternalIntake); !ok {
		t.Errorf("got %T, want *intake.ExternalIntake", in)
	}

	_ = closer.Close()
}

func TestBuildIntakeSelectsInstrument(t *testing.T) {
	settings := defaultStationSettings()
	settings.TestPositions = []string{"pos1"}
	settings.SNFromUI = false
	settings.SNFromInstrument = true

	in, closer, err := BuildIntake(settings, nil, ExternalIntakeConfig{}, stubInstrumentSource{}, []string{"seqA"}, nil)
	if err != nil {
		t.Fatalf("BuildIntake: %v", err)
	}

	if _, ok := in.(*intake.InstrumentIntake); !ok {
		t.Errorf("got %T, want *intake.InstrumentIntake", in)
	}

	if err := closer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

type stubInstrumentSource struct{}

func (stubInstrumentSource) Duts(_ context.Context) ([]intake.InstrumentDut, error) {
	return nil, nil
}

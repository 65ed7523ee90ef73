package intake

import (
	"context"
	"testing"
	"time"
)

func TestResolveSequenceExactMatchWins(t *testing.T) {
	names := []string{"widget_test", "widget_test_v2"}

	if got := resolveSequence("widget_test", names); got != "widget_test" {
		t.Errorf("resolveSequence() = %q, want widget_test", got)
	}
}

func TestResolveSequenceFallsBackToSubstring(t *testing.T) {
	names := []string{"widget_test_full"}

	if got := resolveSequence("widget", names); got != "widget_test_full" {
		t.Errorf("resolveSequence() = %q, want widget_test_full", got)
	}
}

func TestResolveSequenceNoMatch(t *testing.T) {
	if got := resolveSequence("unknown", []string{"widget_test"}); got != "" {
		t.Errorf("resolveSequence() = %q, want empty", got)
	}
}

type stubInstrumentSource struct {
	duts []InstrumentDut
}

func (s *stubInstrumentSource) Duts(ctx context.Context) ([]InstrumentDut, error) {
	return s.duts, nil
}

func TestInstrumentIntakeAssembleMapsOrderToPositions(t *testing.T) {
	source := &stubInstrumentSource{
		duts: []InstrumentDut{
			{Type: "widget_test", SN: "SN002", Order: 1},
			{Type: "widget_test", SN: "SN001", Order: 0},
		},
	}

	ii := NewInstrumentIntake(source, []string{"pos1", "pos2"}, []string{"widget_test"}, nil)

	raw, ok := ii.assemble(source.duts)
	if !ok {
		t.Fatal("assemble() returned ok=false")
	}

	delta, err := parseMessage(raw)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}

	if delta.Serials["pos1"] != "SN001" {
		t.Errorf("pos1 = %q, want SN001 (order 0)", delta.Serials["pos1"])
	}

	if delta.Serials["pos2"] != "SN002" {
		t.Errorf("pos2 = %q, want SN002 (order 1)", delta.Serials["pos2"])
	}

	if delta.Sequence != "widget_test" {
		t.Errorf("Sequence = %q, want widget_test", delta.Sequence)
	}
}

func TestInstrumentIntakeEndToEnd(t *testing.T) {
	source := &stubInstrumentSource{
		duts: []InstrumentDut{
			{Type: "widget_test", SN: "SN001", Order: 0},
			{Type: "widget_test", SN: "SN002", Order: 1},
		},
	}

	ii := NewInstrumentIntake(source, []string{"pos1", "pos2"}, []string{"widget_test"}, nil)
	ii.pollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	var acc *Accumulated

	var runErr error

	go func() {
		acc, runErr = ii.Run(ctx)
		close(done)
	}()

	<-done

	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}

	if acc.Serials["pos1"] != "SN001" || acc.Serials["pos2"] != "SN002" {
		t.Errorf("Serials = %+v", acc.Serials)
	}
}

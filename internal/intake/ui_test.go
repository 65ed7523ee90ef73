package intake

import (
	"context"
	"testing"
	"time"
)

func TestUIIntakeCompletesOnFullPositionCoverage(t *testing.T) {
	u := NewUIIntake([]string{"pos1", "pos2"}, nil)

	u.Submit([]byte(`{"pos1": "SN001"}`))
	u.Submit([]byte(`not json, ignored`))
	u.Submit([]byte(`{"pos2": "SN002"}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acc, err := u.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if acc.Serials["pos1"] != "SN001" || acc.Serials["pos2"] != "SN002" {
		t.Errorf("Serials = %+v", acc.Serials)
	}
}

func TestUIIntakeCancelledContext(t *testing.T) {
	u := NewUIIntake([]string{"pos1"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := u.Run(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestUIIntakeSubmitNeverBlocksWhenQueueIsFull(t *testing.T) {
	u := NewUIIntake([]string{"pos1", "pos2"}, nil)

	for i := 0; i < uiQueueSize+5; i++ {
		u.Submit([]byte(`{"pos1": "SN-filler"}`))
	}

	u.Submit([]byte(`{"pos2": "SN-final"}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acc, err := u.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if acc.Serials["pos2"] != "SN-final" {
		t.Errorf("Serials[pos2] = %q, want SN-final", acc.Serials["pos2"])
	}
}

package intake

import "testing"

func TestParseMessageSplitsKnownAndPositionFields(t *testing.T) {
	delta, err := parseMessage([]byte(`{
		"sequence": "widget_test",
		"running_mode": "production",
		"gage_rr": true,
		"pos1": "SN001",
		"pos2": {"sn": "SN002", "type": "widget_test"}
	}`))
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}

	if delta.Sequence != "widget_test" {
		t.Errorf("Sequence = %q, want widget_test", delta.Sequence)
	}

	if delta.RunningMode != "production" {
		t.Errorf("RunningMode = %q, want production", delta.RunningMode)
	}

	if !delta.GageRR {
		t.Error("GageRR = false, want true")
	}

	if delta.Serials["pos1"] != "SN001" {
		t.Errorf("Serials[pos1] = %q, want SN001", delta.Serials["pos1"])
	}

	if delta.Serials["pos2"] != "SN002" {
		t.Errorf("Serials[pos2] = %q, want SN002", delta.Serials["pos2"])
	}

	if delta.PositionSequence["pos2"] != "widget_test" {
		t.Errorf("PositionSequence[pos2] = %q, want widget_test", delta.PositionSequence["pos2"])
	}
}

func TestParseMessageMalformedReturnsError(t *testing.T) {
	if _, err := parseMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestAccumulatedMergeDoesNotClobberWithEmpty(t *testing.T) {
	acc := newAccumulated()
	acc.merge(&Accumulated{Serials: map[string]string{"pos1": "SN001"}, Sequence: "widget_test"})
	acc.merge(&Accumulated{Serials: map[string]string{"pos1": "", "pos2": "SN002"}})

	if acc.Serials["pos1"] != "SN001" {
		t.Errorf("pos1 serial was clobbered: %q", acc.Serials["pos1"])
	}

	if acc.Serials["pos2"] != "SN002" {
		t.Errorf("pos2 serial = %q, want SN002", acc.Serials["pos2"])
	}

	if acc.Sequence != "widget_test" {
		t.Errorf("Sequence = %q, want widget_test", acc.Sequence)
	}
}

func TestCompleteByPositionCoverage(t *testing.T) {
	acc := newAccumulated()
	positions := []string{"pos1", "pos2"}

	if acc.complete(positions, nil) {
		t.Fatal("empty accumulation should not be complete")
	}

	acc.Serials["pos1"] = "SN001"
	if acc.complete(positions, nil) {
		t.Fatal("partial coverage should not be complete")
	}

	acc.Serials["pos2"] = "SN002"
	if !acc.complete(positions, nil) {
		t.Fatal("full position coverage should be complete")
	}
}

func TestCompleteBySequenceDutsCount(t *testing.T) {
	acc := newAccumulated()
	acc.Sequence = "widget_test"
	acc.Serials["pos1"] = "SN001"

	duts := func(name string) (int, bool) {
		if name == "widget_test" {
			return 1, true
		}

		return 0, false
	}

	if !acc.complete([]string{"pos1", "pos2"}, duts) {
		t.Fatal("DUTS count of 1 met by one serial should complete, even with pos2 unfilled")
	}
}

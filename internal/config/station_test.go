package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jotautomation/iris/internal/orchestrator"
	"github.com/jotautomation/iris/internal/testcase"
)

func TestLoadStationSettingsFallsBackToEnvDefaults(t *testing.T) {
	t.Setenv(stationSettingsPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TEST_POSITIONS", "pos1,pos2")
	t.Setenv("SN_FROM_UI", "true")

	settings, err := LoadStationSettings()
	if err != nil {
		t.Fatalf("LoadStationSettings: %v", err)
	}

	if len(settings.TestPositions) != 2 {
		t.Errorf("TestPositions = %v, want 2 entries", settings.TestPositions)
	}

	if settings.ParallelExecution != ExecutionPerDut {
		t.Errorf("ParallelExecution = %q, want default %q", settings.ParallelExecution, ExecutionPerDut)
	}
}

func TestLoadStationSettingsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station_settings.yaml")

	doc := `
test_positions: [pos1, pos2]
instruments: [scanner]
flow_control: CONTINUE
parallel_execution: PARALLEL
parallel_sync_per_test_case: MID
loop_execution: true
loop_time_in_seconds: 5
sn_externally: true
sn_from_ui: false
running_modes: [Production, Debug]
gage_rr:
  operators: 2
  duts: 3
  trials: 4
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv(stationSettingsPathEnv, path)

	settings, err := LoadStationSettings()
	if err != nil {
		t.Fatalf("LoadStationSettings: %v", err)
	}

	if settings.ParallelExecution != ExecutionParallel {
		t.Errorf("ParallelExecution = %q, want PARALLEL", settings.ParallelExecution)
	}

	if !settings.SNExternally {
		t.Error("expected SNExternally to be true")
	}

	if settings.GageRR == nil || settings.GageRR.Trials != 4 {
		t.Errorf("GageRR = %+v, want Trials=4", settings.GageRR)
	}

	if err := settings.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestStationSettingsValidateRejectsNoSNSource(t *testing.T) {
	settings := defaultStationSettings()
	settings.TestPositions = []string{"pos1"}
	settings.SNFromUI = false

	if err := settings.Validate(); err == nil {
		t.Fatal("expected error when no SN source is configured")
	}
}

func TestStationSettingsValidateRejectsMultipleSNSources(t *testing.T) {
	settings := defaultStationSettings()
	settings.TestPositions = []string{"pos1"}
	settings.SNFromUI = true
	settings.SNExternally = true

	if err := settings.Validate(); err == nil {
		t.Fatal("expected error when more than one SN source is configured")
	}
}

func TestStationSettingsValidateRejectsEmptyPositions(t *testing.T) {
	settings := defaultStationSettings()
	settings.TestPositions = nil

	if err := settings.Validate(); err == nil {
		t.Fatal("expected error for empty test position list")
	}
}

func TestStationSettingsValidateRejectsBadEnums(t *testing.T) {
	settings := defaultStationSettings()
	settings.TestPositions = []string{"pos1"}
	settings.ParallelExecution = "NOT_A_MODE"

	if err := settings.Validate(); err == nil {
		t.Fatal("expected error for invalid parallel_execution")
	}
}

func TestOrchestratorConfigMapping(t *testing.T) {
	settings := defaultStationSettings()
	settings.ParallelExecution = ExecutionPerTestCase
	settings.ParallelSyncPerTestCase = SyncPointCompleted
	settings.FlowControl = FlowContinue
	settings.LoopTimeInSeconds = 10
	settings.ParallelSyncCompletedTestTimeout = 20

	cfg := settings.OrchestratorConfig()

	if cfg.Discipline != orchestrator.PerTestCase {
		t.Errorf("Discipline = %v, want PerTestCase", cfg.Discipline)
	}

	if cfg.SyncMode != orchestrator.SyncCompleted {
		t.Errorf("SyncMode = %v, want SyncCompleted", cfg.SyncMode)
	}

	if cfg.FlowControl != testcase.Continue {
		t.Errorf("FlowControl = %v, want Continue", cfg.FlowControl)
	}
}

func TestGageRRConfigNilWhenUnconfigured(t *testing.T) {
	settings := defaultStationSettings()

	if settings.GageRRConfig() != nil {
		t.Error("expected nil GageRR config when GageRR is unset")
	}
}

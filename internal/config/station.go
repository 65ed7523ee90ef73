// Package config provides functions for reading config settings from ENV
// and the station's YAML settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/orchestrator"
	"github.com/jotautomation/iris/internal/testcase"
)

// ParallelExecution selects the discipline a sequence's cases are fanned
// out under.
type ParallelExecution string

const (
	ExecutionParallel    ParallelExecution = "PARALLEL"
	ExecutionPerDut      ParallelExecution = "PER_DUT"
	ExecutionPerTestCase ParallelExecution = "PER_TEST_CASE"
)

// SyncPoint selects which barriers PER_TEST_CASE installs.
type SyncPoint string

const (
	SyncPointMid       SyncPoint = "MID"
	SyncPointCompleted SyncPoint = "COMPLETED"
	SyncPointBoth      SyncPoint = "BOTH"
)

// FlowControlMode selects what happens to a DUT's remaining cases after a
// non-pass result.
type FlowControlMode string

const (
	FlowStopOnFail FlowControlMode = "STOP_ON_FAIL"
	FlowContinue   FlowControlMode = "CONTINUE"
)

// Configuration validation errors. These are distinct from
// control.ErrUnknownRunningMode, which names an unknown running mode in an
// inbound control-event message (intake does not check running modes, so
// nothing returns it); these validate the station settings document itself.
var (
	ErrInvalidParallelExecution = errors.New("invalid parallel_execution setting")
	ErrInvalidSyncPoint         = errors.New("invalid parallel_sync_per_test_case setting")
	ErrInvalidFlowControl       = errors.New("invalid flow_control setting")
	ErrNoSNSource               = errors.New("no SN intake source configured")
	ErrMultipleSNSources        = errors.New("more than one SN intake source configured")
	ErrNoTestPositions          = errors.New("no test positions configured")
)

// GageRRSettings is the on-disk shape of the station's Gage R&R study
// parameters, absent entirely when the station doesn't run one.
type GageRRSettings struct {
	Operators int `yaml:"operators"`
	Duts      int `yaml:"duts"`
	Trials    int `yaml:"trials"`
}

// StationSettings is the full station (common) definitions surface: the
// Go equivalent of the station_settings.yaml document the Python source
// loads at boot, plus environment-derived defaults for every field that
// has no file on disk.
type StationSettings struct {
	TestPositions                    []string          `yaml:"test_positions"`
	Instruments                      []string          `yaml:"instruments"`
	DBHandlerName                    string            `yaml:"db_handler_name"`
	FlowControl                      FlowControlMode   `yaml:"flow_control"`
	ParallelExecution                ParallelExecution `yaml:"parallel_execution"`
	ParallelSyncPerTestCase          SyncPoint         `yaml:"parallel_sync_per_test_case"`
	ParallelSyncCompletedTestTimeout int               `yaml:"parallel_sync_completed_test_timeout"` // seconds
	LoopExecution                    bool              `yaml:"loop_execution"`
	LoopTimeInSeconds                int               `yaml:"loop_time_in_seconds"`
	SNFromUI                         bool              `yaml:"sn_from_ui"`
	SNExternally                     bool              `yaml:"sn_externally"`
	SNFromInstrument                 bool              `yaml:"sn_from_instrument"`
	RunningModes                     []string          `yaml:"running_modes"`
	GageRR                           *GageRRSettings   `yaml:"gage_rr"`
	SequenceDir                      string            `yaml:"sequence_dir"`
}

const (
	defaultParallelSyncTimeoutSeconds = 30
	defaultSequenceDir                = "sequences"
)

// stationSettingsPathEnv names the environment variable holding the path
// to the station settings YAML document; stationSettingsDefaultPath is
// where LoadStationSettings looks when it isn't set.
const (
	stationSettingsPathEnv     = "STATION_SETTINGS_PATH"
	stationSettingsDefaultPath = "station_settings.yaml"
)

// LoadStationSettings reads the station settings document named by
// STATION_SETTINGS_PATH (or stationSettingsDefaultPath). When the file
// does not exist, every field falls back to its environment-derived
// default, matching the defaults-plus-override pattern LoadServerConfig
// uses for the rest of the application's configuration.
func LoadStationSettings() (*StationSettings, error) {
	path := GetEnvStr(stationSettingsPathEnv, stationSettingsDefaultPath)

	settings := defaultStationSettings()

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading station settings %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("parsing station settings %s: %w", path, err)
	}

	return settings, nil
}

// defaultStationSettings derives every station setting from the
// environment, used both as the base a loaded YAML document overlays and
// as the whole configuration when no file is present.
func defaultStationSettings() *StationSettings {
	settings := &StationSettings{
		TestPositions:                    ParseCommaSeparatedList(GetEnvStr("TEST_POSITIONS", "")),
		Instruments:                      ParseCommaSeparatedList(GetEnvStr("INSTRUMENTS", "")),
		DBHandlerName:                    GetEnvStr("DB_HANDLER_NAME", "postgres"),
		FlowControl:                      FlowControlMode(GetEnvStr("FLOW_CONTROL", string(FlowStopOnFail))),
		ParallelExecution:                ParallelExecution(GetEnvStr("PARALLEL_EXECUTION", string(ExecutionPerDut))),
		ParallelSyncPerTestCase:          SyncPoint(GetEnvStr("PARALLEL_SYNC_PER_TEST_CASE", string(SyncPointBoth))),
		ParallelSyncCompletedTestTimeout: GetEnvInt("PARALLEL_SYNC_COMPLETED_TEST_TIMEOUT", defaultParallelSyncTimeoutSeconds),
		LoopExecution:                    GetEnvBool("LOOP_EXECUTION", false),
		LoopTimeInSeconds:                GetEnvInt("LOOP_TIME_IN_SECONDS", 0),
		SNFromUI:                         GetEnvBool("SN_FROM_UI", true),
		SNExternally:                     GetEnvBool("SN_EXTERNALLY", false),
		SNFromInstrument:                 GetEnvBool("SN_FROM_INSTRUMENT", false),
		RunningModes:                     ParseCommaSeparatedList(GetEnvStr("RUNNING_MODES", "Production")),
		SequenceDir:                      GetEnvStr("SEQUENCE_DIR", defaultSequenceDir),
	}

	if GetEnvBool("GAGE_RR_ENABLED", false) {
		settings.GageRR = &GageRRSettings{
			Operators: GetEnvInt("GAGE_RR_OPERATORS", 1),
			Duts:      GetEnvInt("GAGE_RR_DUTS", 1),
			Trials:    GetEnvInt("GAGE_RR_TRIALS", 1),
		}
	}

	return settings
}

// Validate checks that the station settings describe a coherent station:
// exactly one SN intake source, known enum values, and a non-empty
// position list.
func (s *StationSettings) Validate() error {
	if len(s.TestPositions) == 0 {
		return ErrNoTestPositions
	}

	switch s.ParallelExecution {
	case ExecutionParallel, ExecutionPerDut, ExecutionPerTestCase:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidParallelExecution, s.ParallelExecution)
	}

	switch s.ParallelSyncPerTestCase {
	case SyncPointMid, SyncPointCompleted, SyncPointBoth:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSyncPoint, s.ParallelSyncPerTestCase)
	}

	switch s.FlowControl {
	case FlowStopOnFail, FlowContinue:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidFlowControl, s.FlowControl)
	}

	sources := 0
	for _, active := range []bool{s.SNFromUI, s.SNExternally, s.SNFromInstrument} {
		if active {
			sources++
		}
	}

	switch {
	case sources == 0:
		return ErrNoSNSource
	case sources > 1:
		return ErrMultipleSNSources
	}

	return nil
}

// OrchestratorConfig translates the station settings into the
// orchestrator's execution config.
func (s *StationSettings) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Discipline:     s.discipline(),
		SyncMode:       s.syncMode(),
		BarrierTimeout: time.Duration(s.ParallelSyncCompletedTestTimeout) * time.Second,
		FlowControl:    s.flowControl(),
		LoopExecution:  s.LoopExecution,
		LoopTimeBudget: time.Duration(s.LoopTimeInSeconds) * time.Second,
	}
}

func (s *StationSettings) discipline() orchestrator.Discipline {
	switch s.ParallelExecution {
	case ExecutionParallel:
		return orchestrator.Parallel
	case ExecutionPerTestCase:
		return orchestrator.PerTestCase
	default:
		return orchestrator.PerDut
	}
}

func (s *StationSettings) syncMode() orchestrator.SyncMode {
	switch s.ParallelSyncPerTestCase {
	case SyncPointMid:
		return orchestrator.SyncMid
	case SyncPointCompleted:
		return orchestrator.SyncCompleted
	default:
		return orchestrator.SyncBoth
	}
}

func (s *StationSettings) flowControl() testcase.FlowControl {
	if s.FlowControl == FlowContinue {
		return testcase.Continue
	}

	return testcase.StopOnFail
}

// GageRRConfig builds the live Gage R&R counter state the station's
// TestControl carries, or nil when the station doesn't run a study.
func (s *StationSettings) GageRRConfig() *control.GageRR {
	if s.GageRR == nil {
		return nil
	}

	return &control.GageRR{
		Operators: s.GageRR.Operators,
		Duts:      s.GageRR.Duts,
		Trials:    s.GageRR.Trials,
	}
}

// Package progress implements the Progress Reporter: a thread-safe
// aggregate of run state, serialised to a JSON snapshot and pushed to a
// bounded subscriber queue after every state change.
package progress

// PositionSnapshot is one test position's entry in a Snapshot's Duts map.
type PositionSnapshot struct {
	Step       string `json:"step"`
	Status     string `json:"status"`
	SN         string `json:"sn,omitempty"`
	TestStatus string `json:"test_status"`
	DutClass   any    `json:"dut_class,omitempty"`
}

// Snapshot is the stable, serialisable shape emitted on every state change.
// general_state, duts, sequence_name, get_sn_from_ui, test_sequences,
// test_cases and running_mode are always present; the remaining fields are
// omitted when empty.
type Snapshot struct {
	GeneralState  string                      `json:"general_state"`
	Duts          map[string]PositionSnapshot `json:"duts"`
	SequenceName  string                      `json:"sequence_name"`
	GetSNFromUI   bool                        `json:"get_sn_from_ui"`
	TestSequences []string                    `json:"test_sequences"`
	TestCases     map[string][]string         `json:"test_cases"`
	RunningMode   string                      `json:"running_mode"`
	GageRR        any                         `json:"gage_rr,omitempty"`

	OverallResult string `json:"overall_result,omitempty"`
	Statistics    any    `json:"statistics,omitempty"`

	InstrumentStatus map[string]string `json:"instrument_status,omitempty"`
	VersionInfo      map[string]string `json:"version_info,omitempty"`

	OperatorInstructions string            `json:"operator_instructions,omitempty"`
	ReportPaths          map[string]string `json:"report_paths,omitempty"`
}

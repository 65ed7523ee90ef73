// Package intake implements SN Intake: the blocking consumer that turns
// control-event messages into a bound set of DUT serials plus the sequence,
// operator and mode metadata the orchestrator needs to start a run.
//
// Every variant shares one wire shape: a JSON object whose known keys carry
// run metadata (sequence, running_mode, operator, gage_rr, order,
// external_selection, testCases) and whose remaining keys are test-position
// names mapped either to a bare serial string or to an object carrying both
// a serial and a per-position sequence ("type"). Unknown or malformed
// messages are dropped rather than rejected outright; only the external
// variant treats a structurally valid but inconsistent message as an error.
package intake

import "encoding/json"

// SequenceDuts looks up the expected DUT count for a sequence name, as
// declared by its manifest. ok is false when the name is not registered.
type SequenceDuts func(sequenceName string) (duts int, ok bool)

// Accumulated is the run-in-progress state built up from one or more intake
// messages. Serials and PositionSequence are keyed by test-position name.
type Accumulated struct {
	Serials           map[string]string
	PositionSequence  map[string]string
	Sequence          string
	RunningMode       string
	Operator          string
	GageRR            bool
	Order             []string
	ExternalSelection bool
	TestCases         []string
}

// Result is the finished intake outcome handed to the orchestrator once
// completion criteria are met.
type Result struct {
	Serials           map[string]string
	Sequence          string
	RunningMode       string
	Operator          string
	GageRR            bool
	Order             []string
	ExternalSelection bool
	TestCases         []string
}

func newAccumulated() *Accumulated {
	return &Accumulated{
		Serials:          make(map[string]string),
		PositionSequence: make(map[string]string),
	}
}

// positionField accepts either a bare JSON string (serial only) or an
// object carrying a serial and the sequence ("type") it was reported under.
type positionField struct {
	SN   string
	Type string
}

func (p *positionField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.SN = s
		return nil
	}

	var obj struct {
		SN   string `json:"sn"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	p.SN = obj.SN
	p.Type = obj.Type

	return nil
}

// parseMessage decodes one control-event message into a delta to merge into
// an Accumulated. A malformed top-level object is the only case that
// returns an error; unrecognized keys within an otherwise valid object are
// simply skipped.
func parseMessage(raw []byte) (*Accumulated, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	delta := newAccumulated()

	for key, val := range fields {
		switch key {
		case "sequence":
			_ = json.Unmarshal(val, &delta.Sequence)
		case "running_mode":
			_ = json.Unmarshal(val, &delta.RunningMode)
		case "operator":
			_ = json.Unmarshal(val, &delta.Operator)
		case "gage_rr":
			_ = json.Unmarshal(val, &delta.GageRR)
		case "order":
			_ = json.Unmarshal(val, &delta.Order)
		case "external_selection":
			_ = json.Unmarshal(val, &delta.ExternalSelection)
		case "testCases":
			_ = json.Unmarshal(val, &delta.TestCases)
		default:
			var pf positionField
			if err := json.Unmarshal(val, &pf); err != nil {
				continue
			}

			delta.Serials[key] = pf.SN
			if pf.Type != "" {
				delta.PositionSequence[key] = pf.Type
			}
		}
	}

	return delta, nil
}

// merge folds delta into a, letting a later empty field leave an earlier
// non-empty one in place rather than clobbering it.
func (a *Accumulated) merge(delta *Accumulated) {
	for pos, sn := range delta.Serials {
		if sn != "" {
			a.Serials[pos] = sn
		}
	}

	for pos, seq := range delta.PositionSequence {
		if seq != "" {
			a.PositionSequence[pos] = seq
		}
	}

	if delta.Sequence != "" {
		a.Sequence = delta.Sequence
	}

	if delta.RunningMode != "" {
		a.RunningMode = delta.RunningMode
	}

	if delta.Operator != "" {
		a.Operator = delta.Operator
	}

	if delta.GageRR {
		a.GageRR = true
	}

	if len(delta.Order) > 0 {
		a.Order = delta.Order
	}

	if delta.ExternalSelection {
		a.ExternalSelection = true
	}

	if len(delta.TestCases) > 0 {
		a.TestCases = delta.TestCases
	}
}

func (a *Accumulated) nonEmptySerialCount() int {
	n := 0

	for _, sn := range a.Serials {
		if sn != "" {
			n++
		}
	}

	return n
}

// complete reports whether either completion criterion is met: a
// sequence-declared DUT count satisfied by the number of non-empty
// serials, or every configured position holding a non-empty serial.
func (a *Accumulated) complete(positions []string, sequenceDuts SequenceDuts) bool {
	if a.Sequence != "" && sequenceDuts != nil {
		if duts, ok := sequenceDuts(a.Sequence); ok && duts > 0 && a.nonEmptySerialCount() >= duts {
			return true
		}
	}

	if len(positions) == 0 {
		return false
	}

	for _, p := range positions {
		if a.Serials[p] == "" {
			return false
		}
	}

	return true
}

// Result converts the accumulated state into the value handed off to the
// orchestrator's position-binding step.
func (a *Accumulated) Result() Result {
	return Result{
		Serials:           a.Serials,
		Sequence:          a.Sequence,
		RunningMode:       a.RunningMode,
		Operator:          a.Operator,
		GageRR:            a.GageRR,
		Order:             a.Order,
		ExternalSelection: a.ExternalSelection,
		TestCases:         a.TestCases,
	}
}

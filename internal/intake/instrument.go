package intake

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const instrumentPollInterval = time.Second

// InstrumentDut is one entry of an instrument's reported duts list: a DUT
// type (used to resolve a sequence name), its serial number, and the order
// it occupies on the fixture.
type InstrumentDut struct {
	Type  string
	SN    string
	Order int
}

// InstrumentSource is polled once per tick for its current duts list. A
// real implementation talks to a PLC or vision system driver; tests supply
// a stub.
type InstrumentSource interface {
	Duts(ctx context.Context) ([]InstrumentDut, error)
}

// InstrumentIntake resolves DUT serials reported by a station instrument
// instead of an operator or external caller. It polls the instrument at
// 1 Hz, maps reported duts to configured positions in order, resolves each
// dut's Type to the closest matching sequence name, and feeds the
// synthesized message through the same accumulation loop UIIntake uses.
type InstrumentIntake struct {
	*UIIntake

	source        InstrumentSource
	positions     []string
	sequenceNames []string
	pollInterval  time.Duration
}

// NewInstrumentIntake creates an InstrumentIntake. sequenceNames is the set
// of registered sequence names used to resolve each reported dut Type.
func NewInstrumentIntake(source InstrumentSource, positions, sequenceNames []string, sequenceDuts SequenceDuts) *InstrumentIntake {
	return &InstrumentIntake{
		UIIntake:      NewUIIntake(positions, sequenceDuts),
		source:        source,
		positions:     positions,
		sequenceNames: sequenceNames,
		pollInterval:  instrumentPollInterval,
	}
}

// Run starts the polling loop and blocks on the shared accumulation loop
// until intake completes or ctx is cancelled.
func (ii *InstrumentIntake) Run(ctx context.Context) (*Accumulated, error) {
	go ii.poll(ctx)

	return ii.UIIntake.Run(ctx)
}

func (ii *InstrumentIntake) poll(ctx context.Context) {
	ticker := time.NewTicker(ii.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			duts, err := ii.source.Duts(ctx)
			if err != nil {
				continue
			}

			if raw, ok := ii.assemble(duts); ok {
				ii.Submit(raw)
			}
		}
	}
}

// assemble maps a poll result onto configured positions in Order and
// resolves each dut's Type to a sequence name, producing the same wire
// shape UIIntake/ExternalIntake consume.
func (ii *InstrumentIntake) assemble(duts []InstrumentDut) ([]byte, bool) {
	if len(duts) == 0 {
		return nil, false
	}

	ordered := make([]InstrumentDut, len(duts))
	copy(ordered, duts)

	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Order < ordered[j-1].Order; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	msg := make(map[string]any, len(ordered)+1)

	var sequence string

	for i, d := range ordered {
		if i >= len(ii.positions) {
			break
		}

		seq := resolveSequence(d.Type, ii.sequenceNames)
		if seq != "" {
			sequence = seq
		}

		msg[ii.positions[i]] = map[string]string{"sn": d.SN, "type": seq}
	}

	if sequence != "" {
		msg["sequence"] = sequence
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, false
	}

	return raw, true
}

// resolveSequence finds the sequence name that best matches a reported dut
// Type: an exact match wins outright, otherwise the first name that either
// contains, or is contained by, typ.
func resolveSequence(typ string, names []string) string {
	for _, name := range names {
		if name == typ {
			return name
		}
	}

	for _, name := range names {
		if strings.Contains(typ, name) || strings.Contains(name, typ) {
			return name
		}
	}

	return ""
}

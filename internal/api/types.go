// Package api provides the HTTP control-plane server for the sequencer.
package api

import (
	"encoding/json"
	"time"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// ControlEventRequest documents the body accepted by
	// POST /api/v1/control-events: the raw SN/DUT-assignment payload a
	// caller submits on behalf of an operator UI. The orchestrator's
	// UIIntake owns the wire format; this type documents the endpoint's
	// expected shape but the body is forwarded to UIIntake.Submit as-is,
	// not unmarshalled into this struct.
	ControlEventRequest struct {
		Position string          `json:"position"`
		Sn       string          `json:"sn,omitempty"`
		Sequence string          `json:"sequence,omitempty"`
		DutClass json.RawMessage `json:"dut_class,omitempty"`
	}

	// ControlEventResponse acknowledges a control-event submission.
	ControlEventResponse struct {
		Accepted      bool      `json:"accepted"`
		CorrelationID string    `json:"correlation_id"` //nolint: tagliatelle
		Timestamp     time.Time `json:"timestamp"`
	}

	// RunControlRequest is the body accepted by the run-control endpoints
	// (pause, resume, abort, terminate). Most of these actions take no
	// parameters; the handlers do not read the body, so Reason is neither
	// parsed nor echoed in the response.
	RunControlRequest struct {
		Reason string `json:"reason,omitempty"`
	}

	// RunControlResponse acknowledges a run-control action.
	RunControlResponse struct {
		Action        string    `json:"action"`
		Accepted      bool      `json:"accepted"`
		CorrelationID string    `json:"correlation_id"` //nolint: tagliatelle
		Timestamp     time.Time `json:"timestamp"`
	}

	// SequenceListResponse lists the sequence names the station's registry
	// has loaded, for operator tooling to populate a sequence picker.
	SequenceListResponse struct {
		Sequences []string `json:"sequences"`
	}
)

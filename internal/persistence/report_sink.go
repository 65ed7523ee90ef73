package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/position"
)

// PostgresReportSink implements orchestrator.ReportSink and
// testcase.DataFileStore: it is the one place finished and in-flight run
// state crosses from memory into the runs/run_positions/run_cases/
// run_measurements/run_media tables.
type PostgresReportSink struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPostgresReportSink wraps an already-healthy connection.
func NewPostgresReportSink(conn *Connection, logger *slog.Logger) *PostgresReportSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresReportSink{conn: conn, logger: logger}
}

// CreateReport upserts the runs row and a full snapshot of every bound
// position's current case/measurement/media state for this loop cycle.
// The orchestrator calls it once per loop cycle; this sink does not use
// lastResult.
func (s *PostgresReportSink) CreateReport(
	ctx context.Context,
	runID string,
	positions []*position.TestPosition,
	loopCycle int,
	lastResult bool,
) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", control.ErrPersistenceFailed, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, sequence_name, loop_cycle, verdict, started_at)
		VALUES ($1, '', $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET loop_cycle = EXCLUDED.loop_cycle, verdict = EXCLUDED.verdict
	`, runID, loopCycle, control.Testing.String()); err != nil {
		return fmt.Errorf("%w: upsert run: %w", control.ErrPersistenceFailed, err)
	}

	for _, pos := range positions {
		dut := pos.Dut()
		if dut == nil {
			continue
		}

		if err := s.writePosition(ctx, tx, runID, loopCycle, pos, dut); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", control.ErrPersistenceFailed, err)
	}

	return nil
}

// FinalizeTest persists the run's overall verdict once execution and any
// post-loop sweep have both completed.
func (s *PostgresReportSink) FinalizeTest(
	ctx context.Context,
	verdict control.Result,
	positions []*position.TestPosition,
) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE runs SET verdict = $1, finalized_at = now()
		WHERE id = (SELECT run_id FROM run_positions WHERE position_name = $2 ORDER BY id DESC LIMIT 1)
	`, verdict.String(), firstPositionName(positions))
	if err != nil {
		return fmt.Errorf("%w: finalize run: %w", control.ErrPersistenceFailed, err)
	}

	return nil
}

// TestAborted marks the run row as aborted instead of recording a verdict.
func (s *PostgresReportSink) TestAborted(ctx context.Context, positions []*position.TestPosition) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE runs SET aborted = TRUE, finalized_at = now()
		WHERE id = (SELECT run_id FROM run_positions WHERE position_name = $1 ORDER BY id DESC LIMIT 1)
	`, firstPositionName(positions))
	if err != nil {
		return fmt.Errorf("%w: mark run aborted: %w", control.ErrPersistenceFailed, err)
	}

	return nil
}

// StoreTestDataFile persists the metadata record for a case-attached
// artefact. The bytes themselves already live at rec.Path; this call only
// indexes them against the case that produced them.
func (s *PostgresReportSink) StoreTestDataFile(ctx context.Context, rec *position.Media) error {
	metaJSON, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("failed to serialize media metadata: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO run_media (run_case_id, name, path, metadata)
		SELECT id, $2, $3, $4 FROM run_cases ORDER BY id DESC LIMIT 1
	`, rec.Name, rec.Name, rec.Path, metaJSON)
	if err != nil {
		return fmt.Errorf("%w: insert media record: %w", control.ErrPersistenceFailed, err)
	}

	return nil
}

func (s *PostgresReportSink) writePosition(
	ctx context.Context,
	tx *sql.Tx,
	runID string,
	loopCycle int,
	pos *position.TestPosition,
	dut *position.Dut,
) error {
	failedSteps, err := json.Marshal(dut.FailedSteps())
	if err != nil {
		return fmt.Errorf("failed to serialize failed steps: %w", err)
	}

	errorSteps, err := json.Marshal(dut.ErrorSteps())
	if err != nil {
		return fmt.Errorf("failed to serialize error steps: %w", err)
	}

	additionalInfo, err := json.Marshal(dut.AdditionalInfo)
	if err != nil {
		return fmt.Errorf("failed to serialize additional info: %w", err)
	}

	var positionID int64

	err = tx.QueryRowContext(ctx, `
		INSERT INTO run_positions
			(run_id, loop_cycle, position_name, serial_number, hwid, dut_order, verdict, failed_steps, error_steps, additional_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, loop_cycle, position_name) DO UPDATE SET
			serial_number = EXCLUDED.serial_number,
			verdict = EXCLUDED.verdict,
			failed_steps = EXCLUDED.failed_steps,
			error_steps = EXCLUDED.error_steps,
			additional_info = EXCLUDED.additional_info
		RETURNING id
	`,
		runID, loopCycle, pos.Name, dut.SerialNumber, dut.HWID, dut.Order,
		dut.PassFailResult().String(), failedSteps, errorSteps, additionalInfo,
	).Scan(&positionID)
	if err != nil {
		return fmt.Errorf("%w: upsert run position: %w", control.ErrPersistenceFailed, err)
	}

	for caseName, rec := range dut.Cases() {
		if err := s.writeCase(ctx, tx, positionID, caseName, rec); err != nil {
			return err
		}
	}

	return nil
}

func (s *PostgresReportSink) writeCase(
	ctx context.Context,
	tx *sql.Tx,
	positionID int64,
	caseName string,
	rec *position.CaseRecord,
) error {
	var caseID int64

	err := tx.QueryRowContext(ctx, `
		INSERT INTO run_cases (run_position_id, case_name, verdict, started_at, ended_at, duration_s, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, positionID, caseName, rec.Result.String(), rec.StartTime, rec.EndTime, rec.DurationS, rec.Error).Scan(&caseID)
	if err != nil {
		return fmt.Errorf("%w: insert run case: %w", control.ErrPersistenceFailed, err)
	}

	for name, m := range rec.Measurements {
		if err := s.writeMeasurement(ctx, tx, caseID, name, m); err != nil {
			return err
		}
	}

	return nil
}

func (s *PostgresReportSink) writeMeasurement(
	ctx context.Context,
	tx *sql.Tx,
	caseID int64,
	name string,
	m *position.Measurement,
) error {
	valueJSON, err := json.Marshal(m.Value)
	if err != nil {
		return fmt.Errorf("failed to serialize measurement value for %s: %w", name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_measurements (run_case_id, name, value, unit, limit_desc, verdict, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, caseID, name, valueJSON, m.Unit, m.Limit, m.Result.String(), m.Error)
	if err != nil {
		return fmt.Errorf("%w: insert measurement: %w", control.ErrPersistenceFailed, err)
	}

	return nil
}

func firstPositionName(positions []*position.TestPosition) string {
	if len(positions) == 0 {
		return ""
	}

	return positions[0].Name
}

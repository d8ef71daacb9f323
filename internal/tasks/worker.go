package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/common"
)

// Recomputer rebuilds patient aggregates from the ledger.
type Recomputer interface {
	RecomputePatient(ctx context.Context, patientID string) (billing.Totals, bool, error)
	RecomputeAll(ctx context.Context) (int, error)
}

// Worker handles balance tasks.
type Worker struct {
	Billing Recomputer
	Log     zerolog.Logger
}

// Register binds the worker's handlers to mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeBalanceAudit, w.HandleAudit)
	mux.HandleFunc(TypeBalanceSweep, w.HandleSweep)
}

// HandleAudit recomputes one patient's aggregates. Malformed payloads and
// unknown patients are not retried.
func (w *Worker) HandleAudit(ctx context.Context, t *asynq.Task) error {
	var payload AuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypeBalanceAudit, err, asynq.SkipRetry)
	}
	if payload.PatientID == "" {
		return fmt.Errorf("%s: missing patient id: %w", TypeBalanceAudit, asynq.SkipRetry)
	}
	_, repaired, err := w.Billing.RecomputePatient(ctx, payload.PatientID)
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) && appErr.Code == "NOT_FOUND" {
			w.Log.Warn().Str("patient_id", payload.PatientID).Msg("balance_audit_patient_missing")
			return fmt.Errorf("%s: %v: %w", TypeBalanceAudit, err, asynq.SkipRetry)
		}
		return err
	}
	w.Log.Debug().Str("patient_id", payload.PatientID).Bool("repaired", repaired).Msg("balance_audit_done")
	return nil
}

// HandleSweep audits every patient.
func (w *Worker) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	repaired, err := w.Billing.RecomputeAll(ctx)
	if err != nil {
		w.Log.Error().Err(err).Int("repaired", repaired).Msg("balance_sweep_failed")
		return err
	}
	w.Log.Info().Int("repaired", repaired).Msg("balance_sweep_done")
	return nil
}

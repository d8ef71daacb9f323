package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/events"
	"github.com/noah-isme/backend-klinik/internal/invoice"
	"github.com/noah-isme/backend-klinik/internal/lock"
	"github.com/noah-isme/backend-klinik/internal/obs"
	"github.com/noah-isme/backend-klinik/internal/patient"
	"github.com/noah-isme/backend-klinik/internal/store"
)

// Locker serialises work per key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Result is the outcome of a reconciliation.
type Result struct {
	Bill    *Bill           `json:"bill,omitempty"`
	Payment *Payment        `json:"payment,omitempty"`
	Change  decimal.Decimal `json:"change"`
	Patient patient.Patient `json:"patient"`
}

// Service applies submissions to the record store and keeps patient
// aggregates in step with bills and payments.
type Service struct {
	Store Store
	Log   zerolog.Logger

	// Locker is optional; without it concurrent submissions for one
	// patient are caught by the aggregate version check instead.
	Locker  Locker
	LockTTL time.Duration

	Events Emitter
	Policy ExcessPolicy
	// Atomic runs all writes of a submission in one transaction when the
	// store implements Transactor.
	Atomic  bool
	Invoice invoice.Formatter

	Now   func() time.Time
	NewID func() string
}

func (s *Service) engine() Engine {
	return Engine{Policy: s.Policy, Now: s.Now, NewID: s.NewID}
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("billing service not configured")
	}
	return nil
}

// GenerateOrUpdateBill applies a new-bill, edit-bill or standalone-payment submission.
func (s *Service) GenerateOrUpdateBill(ctx context.Context, sub Submission) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	sub.PatientID = strings.TrimSpace(sub.PatientID)
	sub.BillID = strings.TrimSpace(sub.BillID)
	if sub.PatientID == "" {
		return Result{}, common.Validation("", "patient id is required", nil)
	}
	if !sub.Kind.Valid() {
		return Result{}, common.Validation("INVALID_KIND", "submission kind must be new_bill, edit_bill or standalone_payment", ErrInvalidKind)
	}

	start := time.Now()
	var res Result
	err := s.withPatientLock(ctx, sub.PatientID, func(ctx context.Context) error {
		var err error
		res, err = s.reconcile(ctx, sub)
		return err
	})
	outcome := "ok"
	switch {
	case errors.Is(err, ErrPartialFailure):
		outcome = "partial_failure"
	case err != nil:
		outcome = "rejected"
	}
	obs.ObserveReconciliation(string(sub.Kind), outcome, obs.DurationMillis(time.Since(start)))
	return res, err
}

// PayPendingBalance records a standalone payment against a patient's outstanding balance.
func (s *Service) PayPendingBalance(ctx context.Context, patientID string, amount decimal.Decimal, mode PaymentMode, notes string) (Result, error) {
	return s.GenerateOrUpdateBill(ctx, Submission{
		Kind:       KindStandalonePayment,
		PatientID:  patientID,
		PaidAmount: amount,
		Mode:       mode,
		Notes:      notes,
	})
}

func (s *Service) reconcile(ctx context.Context, sub Submission) (Result, error) {
	p, err := s.loadPatient(ctx, s.Store, sub.PatientID)
	if err != nil {
		return Result{}, err
	}
	var existing *Bill
	if sub.Kind == KindEditBill && sub.BillID != "" {
		b, err := s.loadBill(ctx, s.Store, sub.BillID)
		if err != nil {
			return Result{}, err
		}
		existing = &b
	}
	plan, err := s.engine().Plan(sub, existing, p.PendingAmount)
	if err != nil {
		return Result{}, err
	}

	var updated patient.Patient
	if tx, ok := s.Store.(Transactor); ok && s.Atomic {
		err = tx.WithinTx(ctx, func(st Store) error {
			var werr error
			updated, werr = s.write(ctx, st, p, plan, false)
			return werr
		})
	} else {
		updated, err = s.write(ctx, s.Store, p, plan, true)
	}
	if err != nil {
		var pf *PartialFailureError
		if errors.As(err, &pf) {
			s.reportPartialFailure(ctx, pf)
			return Result{Bill: plan.Bill, Payment: plannedIfWritten(plan, pf), Change: plan.Change, Patient: p}, partialFailure(pf)
		}
		return Result{}, err
	}

	s.publish(ctx, plan)
	if plan.Payment != nil {
		obs.ObservePayment(string(plan.Payment.Mode), plan.Payment.Amount.InexactFloat64())
	}
	s.Log.Info().
		Str("patient_id", p.ID).
		Str("kind", string(plan.Kind)).
		Str("total_cost", updated.TotalCost.StringFixed(2)).
		Str("pending_amount", updated.PendingAmount.StringFixed(2)).
		Msg("reconciled")
	return Result{Bill: plan.Bill, Payment: plan.Payment, Change: plan.Change, Patient: updated}, nil
}

// write performs the plan's writes in order: bill, payment, patient
// aggregate. With partial set, a failure after an earlier write succeeded is
// returned as a PartialFailureError and nothing is undone.
func (s *Service) write(ctx context.Context, st Store, p patient.Patient, plan Plan, partial bool) (patient.Patient, error) {
	written := false
	fail := func(stage string, err error) error {
		if partial && written {
			pf := &PartialFailureError{Stage: stage, PatientID: p.ID, Err: err}
			if plan.Bill != nil {
				pf.BillID = plan.Bill.ID
			}
			if plan.Payment != nil && stage == StageAggregate {
				pf.PaymentID = plan.Payment.ID
			}
			return pf
		}
		return common.Persistence(fmt.Sprintf("failed to write %s", stage), err)
	}

	if plan.Bill != nil {
		var err error
		if plan.Kind == KindEditBill {
			err = st.UpdateBill(ctx, *plan.Bill)
		} else {
			err = st.InsertBill(ctx, *plan.Bill)
		}
		if err != nil {
			return patient.Patient{}, fail(StageBill, err)
		}
		written = true
	}
	if plan.Payment != nil {
		if err := st.InsertPayment(ctx, *plan.Payment); err != nil {
			return patient.Patient{}, fail(StagePayment, err)
		}
		written = true
	}

	totals, err := s.totals(ctx, st, p.ID)
	if err != nil {
		return patient.Patient{}, fail(StageAggregate, err)
	}
	version, err := st.UpdatePatientAggregates(ctx, p.ID, totals, p.Version)
	if errors.Is(err, store.ErrVersionConflict) {
		if !partial {
			return patient.Patient{}, common.Conflict("VERSION_CONFLICT", "patient balance changed concurrently; retry", err)
		}
		// the ledger writes are already visible, so rebuild from a fresh read
		p, totals, version, err = s.rewriteAggregates(ctx, st, p.ID)
	}
	if err != nil {
		return patient.Patient{}, fail(StageAggregate, err)
	}
	updated := totals.Apply(p)
	updated.Version = version
	return updated, nil
}

const aggregateRetries = 3

func (s *Service) rewriteAggregates(ctx context.Context, st Store, patientID string) (patient.Patient, Totals, int64, error) {
	var err error
	for attempt := 0; attempt < aggregateRetries; attempt++ {
		var p patient.Patient
		p, err = st.GetPatient(ctx, patientID)
		if err != nil {
			return patient.Patient{}, Totals{}, 0, err
		}
		var totals Totals
		totals, err = s.totals(ctx, st, patientID)
		if err != nil {
			return patient.Patient{}, Totals{}, 0, err
		}
		var version int64
		version, err = st.UpdatePatientAggregates(ctx, patientID, totals, p.Version)
		if err == nil {
			return p, totals, version, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			break
		}
	}
	return patient.Patient{}, Totals{}, 0, err
}

func (s *Service) totals(ctx context.Context, st Store, patientID string) (Totals, error) {
	bills, err := st.ListBillsByPatient(ctx, patientID)
	if err != nil {
		return Totals{}, err
	}
	payments, err := st.ListPaymentsByPatient(ctx, patientID)
	if err != nil {
		return Totals{}, err
	}
	return Recompute(patientID, bills, payments), nil
}

func plannedIfWritten(plan Plan, pf *PartialFailureError) *Payment {
	if pf.Stage == StageAggregate {
		return plan.Payment
	}
	return nil
}

func (s *Service) reportPartialFailure(ctx context.Context, pf *PartialFailureError) {
	s.Log.Error().
		Err(pf.Err).
		Str("stage", pf.Stage).
		Str("patient_id", pf.PatientID).
		Str("bill_id", pf.BillID).
		Str("payment_id", pf.PaymentID).
		Msg("reconcile_partial_failure")
	obs.ObservePartialFailure(pf.Stage)
	s.emit(ctx, events.TopicReconcilePartialFailure, pf.PatientID, map[string]any{
		"stage":      pf.Stage,
		"bill_id":    pf.BillID,
		"payment_id": pf.PaymentID,
		"error":      pf.Err.Error(),
	})
}

func (s *Service) publish(ctx context.Context, plan Plan) {
	if plan.Bill != nil {
		topic := events.TopicBillCreated
		if plan.Kind == KindEditBill {
			topic = events.TopicBillUpdated
		}
		s.emit(ctx, topic, plan.Bill.PatientID, plan.Bill)
	}
	if plan.Payment != nil {
		s.emit(ctx, events.TopicPaymentRecorded, plan.Payment.PatientID, plan.Payment)
	}
}

func (s *Service) emit(ctx context.Context, topic, patientID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, patientID, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Str("patient_id", patientID).Msg("event_emit_failed")
	}
}

func (s *Service) withPatientLock(ctx context.Context, patientID string, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	var inner error
	err := s.Locker.WithLock(ctx, lock.PatientKey(patientID), ttl, func(ctx context.Context) error {
		inner = fn(ctx)
		return inner
	})
	switch {
	case err == nil || inner != nil:
		return err
	case errors.Is(err, lock.ErrNotAcquired):
		return common.Conflict("PATIENT_BUSY", "another operation for this patient is in progress", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return common.Persistence("failed to acquire patient lock", err)
	}
}

func (s *Service) loadPatient(ctx context.Context, st Store, id string) (patient.Patient, error) {
	p, err := st.GetPatient(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return patient.Patient{}, common.NotFound("patient not found", err)
		}
		return patient.Patient{}, common.Persistence("failed to load patient", err)
	}
	return p, nil
}

func (s *Service) loadBill(ctx context.Context, st Store, id string) (Bill, error) {
	b, err := st.GetBill(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Bill{}, common.NotFound("bill not found", err)
		}
		return Bill{}, common.Persistence("failed to load bill", err)
	}
	return b, nil
}

// GetBill returns one bill.
func (s *Service) GetBill(ctx context.Context, id string) (Bill, error) {
	if err := s.ready(); err != nil {
		return Bill{}, err
	}
	return s.loadBill(ctx, s.Store, strings.TrimSpace(id))
}

// ListBills returns a patient's bills, oldest first.
func (s *Service) ListBills(ctx context.Context, patientID string) ([]Bill, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.loadPatient(ctx, s.Store, patientID); err != nil {
		return nil, err
	}
	bills, err := s.Store.ListBillsByPatient(ctx, patientID)
	if err != nil {
		return nil, common.Persistence("failed to list bills", err)
	}
	return bills, nil
}

// ListPayments returns a patient's payments, oldest first.
func (s *Service) ListPayments(ctx context.Context, patientID string) ([]Payment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.loadPatient(ctx, s.Store, patientID); err != nil {
		return nil, err
	}
	payments, err := s.Store.ListPaymentsByPatient(ctx, patientID)
	if err != nil {
		return nil, common.Persistence("failed to list payments", err)
	}
	return payments, nil
}

// CancelBill marks a bill cancelled and recomputes the patient's aggregates.
// Cancelling an already cancelled bill returns it unchanged.
func (s *Service) CancelBill(ctx context.Context, patientID, billID string) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	var res Result
	err := s.withPatientLock(ctx, patientID, func(ctx context.Context) error {
		p, err := s.loadPatient(ctx, s.Store, patientID)
		if err != nil {
			return err
		}
		b, err := s.loadBill(ctx, s.Store, billID)
		if err != nil {
			return err
		}
		if b.PatientID != p.ID {
			return common.Conflict("BILL_PATIENT_MISMATCH", "bill does not belong to this patient", ErrBillPatientMismatch)
		}
		if b.Status == BillCancelled {
			res = Result{Bill: &b, Change: decimal.Zero, Patient: p}
			return nil
		}
		b.Status = BillCancelled
		b.UpdatedAt = s.engine().now()
		plan := Plan{Kind: KindEditBill, Bill: &b, Change: decimal.Zero}

		var updated patient.Patient
		if tx, ok := s.Store.(Transactor); ok && s.Atomic {
			err = tx.WithinTx(ctx, func(st Store) error {
				var werr error
				updated, werr = s.write(ctx, st, p, plan, false)
				return werr
			})
		} else {
			updated, err = s.write(ctx, s.Store, p, plan, true)
		}
		if err != nil {
			var pf *PartialFailureError
			if errors.As(err, &pf) {
				s.reportPartialFailure(ctx, pf)
				return partialFailure(pf)
			}
			return err
		}
		s.emit(ctx, events.TopicBillCancelled, p.ID, b)
		res = Result{Bill: &b, Change: decimal.Zero, Patient: updated}
		return nil
	})
	return res, err
}

// RecomputePatient rebuilds a patient's aggregates from the ledger and
// persists them when they have drifted. It reports whether a repair happened.
func (s *Service) RecomputePatient(ctx context.Context, patientID string) (Totals, bool, error) {
	if err := s.ready(); err != nil {
		return Totals{}, false, err
	}
	var (
		totals  Totals
		drifted bool
	)
	err := s.withPatientLock(ctx, patientID, func(ctx context.Context) error {
		p, err := s.loadPatient(ctx, s.Store, patientID)
		if err != nil {
			return err
		}
		totals, err = s.totals(ctx, s.Store, p.ID)
		if err != nil {
			return common.Persistence("failed to load ledger", err)
		}
		if totals.Matches(p) {
			return nil
		}
		drifted = true
		if _, err := s.Store.UpdatePatientAggregates(ctx, p.ID, totals, p.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return common.Conflict("VERSION_CONFLICT", "patient balance changed concurrently; retry", err)
			}
			return common.Persistence("failed to write aggregates", err)
		}
		obs.ObserveDrift()
		s.Log.Warn().
			Str("patient_id", p.ID).
			Str("stored_pending", p.PendingAmount.StringFixed(2)).
			Str("ledger_pending", totals.PendingAmount.StringFixed(2)).
			Msg("balance_drift_repaired")
		s.emit(ctx, events.TopicBalanceRecomputed, p.ID, totals)
		return nil
	})
	return totals, drifted, err
}

// RecomputeAll runs RecomputePatient for every patient and returns how many
// were repaired. It stops at the first error.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	ids, err := s.Store.ListPatientIDs(ctx)
	if err != nil {
		return 0, common.Persistence("failed to list patients", err)
	}
	repaired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		_, drifted, err := s.RecomputePatient(ctx, id)
		if err != nil {
			return repaired, fmt.Errorf("recompute %s: %w", id, err)
		}
		if drifted {
			repaired++
		}
	}
	return repaired, nil
}

// RenderInvoice builds the invoice document for one of a patient's bills.
func (s *Service) RenderInvoice(ctx context.Context, patientID, billID string) (invoice.Document, error) {
	if err := s.ready(); err != nil {
		return invoice.Document{}, err
	}
	p, err := s.loadPatient(ctx, s.Store, strings.TrimSpace(patientID))
	if err != nil {
		return invoice.Document{}, err
	}
	b, err := s.loadBill(ctx, s.Store, strings.TrimSpace(billID))
	if err != nil {
		return invoice.Document{}, err
	}
	if b.PatientID != p.ID {
		return invoice.Document{}, common.NotFound("bill not found for this patient", ErrBillPatientMismatch)
	}
	doc, err := s.Invoice.Format(p, invoice.Bill{
		ID:          b.ID,
		IssueDate:   b.IssueDate,
		Items:       b.Items,
		TotalAmount: b.TotalAmount,
		Notes:       b.Notes,
		Status:      string(b.Status),
	})
	if err != nil {
		return invoice.Document{}, common.NewAppError("INVOICE_ERROR", "bill items do not add up to the bill total", http.StatusInternalServerError, err)
	}
	return doc, nil
}

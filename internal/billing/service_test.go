package billing_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/events"
	"github.com/noah-isme/backend-klinik/internal/ledger"
	"github.com/noah-isme/backend-klinik/internal/lock"
	"github.com/noah-isme/backend-klinik/internal/patient"
	"github.com/noah-isme/backend-klinik/internal/store"
	"github.com/noah-isme/backend-klinik/internal/store/sqlite"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(label, amount string) ledger.Item {
	return ledger.Item{Label: label, Amount: d(amount)}
}

func code(t *testing.T, err error) string {
	t.Helper()
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

type fixture struct {
	st      *sqlite.Store
	svc     *billing.Service
	events  *events.MemoryStore
	patient patient.Patient
}

func newFixture(t *testing.T, policy billing.ExcessPolicy) fixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p, err := (&patient.Service{Store: st, Log: zerolog.Nop()}).Create(context.Background(), patient.CreateInput{
		Name: "Jane Doe", Phone: "5551234567", Email: "jane@example.com",
	})
	require.NoError(t, err)

	evs := &events.MemoryStore{}
	svc := &billing.Service{
		Store:  st,
		Log:    zerolog.Nop(),
		Events: &events.Bus{Store: evs},
		Policy: policy,
		Atomic: true,
	}
	return fixture{st: st, svc: svc, events: evs, patient: p}
}

func (f fixture) reload(t *testing.T) patient.Patient {
	t.Helper()
	p, err := f.st.GetPatient(context.Background(), f.patient.ID)
	require.NoError(t, err)
	return p
}

func TestScenariosAThroughD(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	ctx := context.Background()

	// A: paid in full.
	resA, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID,
		Items: []ledger.Item{line("Consultation", "100")}, PaidAmount: d("100"),
	})
	require.NoError(t, err)
	require.Equal(t, billing.BillPaid, resA.Bill.Status)
	require.NotNil(t, resA.Payment)
	require.Equal(t, resA.Bill.ID, *resA.Payment.BillID)
	require.True(t, resA.Patient.TotalCost.Equal(d("100")))
	require.True(t, resA.Patient.PendingAmount.IsZero())

	// B: unpaid bill.
	resB, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID,
		Items: []ledger.Item{line("X-ray", "200")},
	})
	require.NoError(t, err)
	require.Equal(t, billing.BillPending, resB.Bill.Status)
	require.Nil(t, resB.Payment)
	require.True(t, resB.Patient.TotalCost.Equal(d("300")))
	require.True(t, resB.Patient.PendingAmount.Equal(d("200")))

	// C: standalone payment against the balance.
	resC, err := f.svc.PayPendingBalance(ctx, f.patient.ID, d("150"), billing.ModeCash, "")
	require.NoError(t, err)
	require.Nil(t, resC.Bill)
	require.Nil(t, resC.Payment.BillID)
	require.True(t, resC.Patient.PendingAmount.Equal(d("50")))
	require.True(t, resC.Patient.TotalCost.Equal(d("300")))

	// D: edit the pending bill up to 250 and mark it paid.
	resD, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindEditBill, PatientID: f.patient.ID, BillID: resB.Bill.ID,
		Items: []ledger.Item{line("X-ray", "250")}, PaidAmount: d("250"),
	})
	require.NoError(t, err)
	require.Nil(t, resD.Payment)
	require.True(t, resD.Bill.TotalAmount.Equal(d("250")))
	require.Equal(t, billing.BillPaid, resD.Bill.Status)
	require.True(t, resD.Patient.TotalCost.Equal(d("350")))
	require.True(t, resD.Patient.PendingAmount.Equal(d("100")))

	stored := f.reload(t)
	require.Equal(t, []string{"Consultation", "X-ray"}, stored.ServicesUsed)
	require.True(t, stored.PendingAmount.Equal(d("100")))

	payments, err := f.svc.ListPayments(ctx, f.patient.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.Equal(t, resA.Bill.ID, *payments[0].BillID, "oldest first")
	require.Nil(t, payments[1].BillID)

	topics := make([]string, 0, len(f.events.Events))
	for _, ev := range f.events.Events {
		topics = append(topics, ev.Topic)
	}
	require.Equal(t, []string{
		events.TopicBillCreated, events.TopicPaymentRecorded,
		events.TopicBillCreated,
		events.TopicPaymentRecorded,
		events.TopicBillUpdated,
	}, topics)
}

func TestRejectedSubmissionWritesNothing(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	_, err := f.svc.GenerateOrUpdateBill(context.Background(), billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID,
		Items: []ledger.Item{line("Consultation", "100")}, PaidAmount: d("-5"),
	})
	require.Equal(t, "INVALID_AMOUNT", code(t, err))

	bills, err := f.svc.ListBills(context.Background(), f.patient.ID)
	require.NoError(t, err)
	require.Empty(t, bills)
	require.Equal(t, f.patient.Version, f.reload(t).Version)
}

func TestUnknownPatientIsNotFound(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	_, err := f.svc.GenerateOrUpdateBill(context.Background(), billing.Submission{
		Kind: billing.KindNewBill, PatientID: "00000000-0000-0000-0000-000000000000",
		Items: []ledger.Item{line("A", "1")},
	})
	require.Equal(t, "NOT_FOUND", code(t, err))
}

func TestExcessAppliedToBalance(t *testing.T) {
	f := newFixture(t, billing.ApplyToBalance)
	ctx := context.Background()
	_, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID, Items: []ledger.Item{line("X-ray", "200")},
	})
	require.NoError(t, err)

	res, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID,
		Items: []ledger.Item{line("Consultation", "100")}, PaidAmount: d("250"),
	})
	require.NoError(t, err)
	require.True(t, res.Change.IsZero())
	require.True(t, res.Payment.Amount.Equal(d("250")))
	require.True(t, res.Patient.TotalCost.Equal(d("300")))
	require.True(t, res.Patient.PendingAmount.Equal(d("50")))
}

func TestExcessReturnedAsChange(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	ctx := context.Background()
	_, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID, Items: []ledger.Item{line("X-ray", "200")},
	})
	require.NoError(t, err)

	res, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID,
		Items: []ledger.Item{line("Consultation", "100")}, PaidAmount: d("250"),
	})
	require.NoError(t, err)
	require.True(t, res.Change.Equal(d("150")))
	require.True(t, res.Payment.Amount.Equal(d("100")))
	require.True(t, res.Patient.PendingAmount.Equal(d("200")))
}

func TestCancelBillRemovesItFromTotals(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	ctx := context.Background()
	res, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID, Items: []ledger.Item{line("MRI", "400")},
	})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelBill(ctx, f.patient.ID, res.Bill.ID)
	require.NoError(t, err)
	require.Equal(t, billing.BillCancelled, cancelled.Bill.Status)
	require.True(t, cancelled.Patient.TotalCost.IsZero())
	require.True(t, cancelled.Patient.PendingAmount.IsZero())

	again, err := f.svc.CancelBill(ctx, f.patient.ID, res.Bill.ID)
	require.NoError(t, err)
	require.Equal(t, billing.BillCancelled, again.Bill.Status)

	_, err = f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindEditBill, PatientID: f.patient.ID, BillID: res.Bill.ID, Items: []ledger.Item{line("MRI", "1")},
	})
	require.Equal(t, "BILL_CANCELLED", code(t, err))
}

func TestRecomputeRepairsDrift(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	ctx := context.Background()
	_, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID,
		Items: []ledger.Item{line("Lab", "80")}, PaidAmount: d("30"),
	})
	require.NoError(t, err)

	current := f.reload(t)
	_, err = f.st.UpdatePatientAggregates(ctx, current.ID, billing.Totals{TotalCost: d("999"), PendingAmount: d("999"), ServicesUsed: []string{}}, current.Version)
	require.NoError(t, err)

	totals, repaired, err := f.svc.RecomputePatient(ctx, f.patient.ID)
	require.NoError(t, err)
	require.True(t, repaired)
	require.True(t, totals.PendingAmount.Equal(d("50")))
	require.True(t, f.reload(t).PendingAmount.Equal(d("50")))

	_, repaired, err = f.svc.RecomputePatient(ctx, f.patient.ID)
	require.NoError(t, err)
	require.False(t, repaired)

	n, err := f.svc.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRenderInvoice(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	ctx := context.Background()
	res, err := f.svc.GenerateOrUpdateBill(ctx, billing.Submission{
		Kind: billing.KindNewBill, PatientID: f.patient.ID,
		Items: []ledger.Item{line("A", "100"), line("B", "50")},
	})
	require.NoError(t, err)

	doc, err := f.svc.RenderInvoice(ctx, f.patient.ID, res.Bill.ID)
	require.NoError(t, err)
	require.True(t, doc.Subtotal.Equal(d("150")))
	require.True(t, doc.Tax.Equal(d("13.5")))
	require.True(t, doc.Total.Equal(d("163.5")))
	require.Equal(t, doc.IssueDate.AddDate(0, 0, 30), doc.DueDate)

	_, err = f.svc.RenderInvoice(ctx, "00000000-0000-0000-0000-000000000000", res.Bill.ID)
	require.Equal(t, "NOT_FOUND", code(t, err))
}

func TestConcurrentSubmissionsKeepTotalsConsistent(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.svc.Locker = lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond, MaxWait: 5 * time.Second}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GenerateOrUpdateBill(context.Background(), billing.Submission{
				Kind: billing.KindNewBill, PatientID: f.patient.ID, Items: []ledger.Item{line("Visit", "10")},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	p := f.reload(t)
	require.True(t, p.TotalCost.Equal(d("80")))
	require.True(t, p.PendingAmount.Equal(d("80")))
}

func TestLockHeldElsewhereIsBusy(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, mr.Set(lock.PatientKey(f.patient.ID), "someone-else"))
	f.svc.Locker = lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond, MaxWait: 50 * time.Millisecond}

	_, err := f.svc.PayPendingBalance(context.Background(), f.patient.ID, d("10"), billing.ModeCash, "")
	require.Equal(t, "PATIENT_BUSY", code(t, err))
}

func TestLockFailuresAreNotBusy(t *testing.T) {
	f := newFixture(t, billing.ReturnChange)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	f.svc.Locker = lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond}

	require.NoError(t, mr.Set(lock.PatientKey(f.patient.ID), "someone-else"))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := f.svc.PayPendingBalance(ctx, f.patient.ID, d("10"), billing.ModeCash, "")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, common.IsAppError(err))

	mr.Close()
	_, err = f.svc.PayPendingBalance(context.Background(), f.patient.ID, d("10"), billing.ModeCash, "")
	require.Equal(t, "PERSISTENCE_ERROR", code(t, err))
}

// memStore is an in-memory billing.Store with injectable failures.
type memStore struct {
	mu       sync.Mutex
	patients map[string]patient.Patient
	bills    map[string]billing.Bill
	order    []string
	payments []billing.Payment

	failPayment error
	failUpdate  error
	conflicts   int
}

func newMemStore(p patient.Patient) *memStore {
	return &memStore{patients: map[string]patient.Patient{p.ID: p}, bills: map[string]billing.Bill{}}
}

func (m *memStore) GetPatient(_ context.Context, id string) (patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return patient.Patient{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListPatientIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.patients))
	for id := range m.patients {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) GetBill(_ context.Context, id string) (billing.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return billing.Bill{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memStore) InsertBill(_ context.Context, b billing.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bills[b.ID] = b
	m.order = append(m.order, b.ID)
	return nil
}

func (m *memStore) UpdateBill(_ context.Context, b billing.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bills[b.ID] = b
	return nil
}

func (m *memStore) ListBillsByPatient(_ context.Context, patientID string) ([]billing.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]billing.Bill, 0)
	for _, id := range m.order {
		if b := m.bills[id]; b.PatientID == patientID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) InsertPayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPayment != nil {
		return m.failPayment
	}
	m.payments = append(m.payments, p)
	return nil
}

func (m *memStore) ListPaymentsByPatient(_ context.Context, patientID string) ([]billing.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]billing.Payment, 0)
	for _, p := range m.payments {
		if p.PatientID == patientID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) UpdatePatientAggregates(_ context.Context, patientID string, t billing.Totals, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return 0, m.failUpdate
	}
	p := m.patients[patientID]
	if m.conflicts > 0 {
		m.conflicts--
		p.Version++
		m.patients[patientID] = p
		return 0, store.ErrVersionConflict
	}
	if p.Version != expected {
		return 0, store.ErrVersionConflict
	}
	p = t.Apply(p)
	p.Version++
	m.patients[patientID] = p
	return p.Version, nil
}

// txStore adds a pass-through transaction scope to memStore.
type txStore struct{ *memStore }

func (s txStore) WithinTx(ctx context.Context, fn func(billing.Store) error) error {
	return fn(s.memStore)
}

func memPatient() patient.Patient {
	return patient.Patient{ID: "p-1", Name: "Jane", Phone: "5551234567", ServicesUsed: []string{}, Version: 1}
}

func TestPartialFailureIsReported(t *testing.T) {
	mem := newMemStore(memPatient())
	mem.failPayment = errors.New("disk full")
	evs := &events.MemoryStore{}
	svc := &billing.Service{Store: mem, Log: zerolog.Nop(), Events: &events.Bus{Store: evs}, Atomic: false}

	res, err := svc.GenerateOrUpdateBill(context.Background(), billing.Submission{
		Kind: billing.KindNewBill, PatientID: "p-1", Items: []ledger.Item{line("Consultation", "100")}, PaidAmount: d("40"),
	})
	require.ErrorIs(t, err, billing.ErrPartialFailure)
	require.Equal(t, "PARTIAL_FAILURE", code(t, err))
	var pf *billing.PartialFailureError
	require.ErrorAs(t, err, &pf)
	require.Equal(t, billing.StagePayment, pf.Stage)
	require.Equal(t, res.Bill.ID, pf.BillID)

	require.Len(t, mem.bills, 1, "the bill write is not undone")
	require.Empty(t, mem.payments)
	require.Len(t, evs.Events, 1)
	require.Equal(t, events.TopicReconcilePartialFailure, evs.Events[0].Topic)
}

func TestFailedWriteBeforeAnyPersistIsPlainError(t *testing.T) {
	mem := newMemStore(memPatient())
	mem.failPayment = errors.New("disk full")
	svc := &billing.Service{Store: mem, Log: zerolog.Nop()}

	_, err := svc.PayPendingBalance(context.Background(), "p-1", d("10"), billing.ModeCash, "")
	// nothing is pending yet under the default policy
	require.ErrorIs(t, err, billing.ErrNothingPending)

	svc.Policy = billing.ApplyToBalance
	_, err = svc.PayPendingBalance(context.Background(), "p-1", d("10"), billing.ModeCash, "")
	require.NotErrorIs(t, err, billing.ErrPartialFailure)
	require.Equal(t, "PERSISTENCE_ERROR", code(t, err))
}

func TestVersionConflictInsideTransaction(t *testing.T) {
	mem := newMemStore(memPatient())
	mem.conflicts = 1
	svc := &billing.Service{Store: txStore{mem}, Log: zerolog.Nop(), Atomic: true}

	_, err := svc.GenerateOrUpdateBill(context.Background(), billing.Submission{
		Kind: billing.KindNewBill, PatientID: "p-1", Items: []ledger.Item{line("A", "10")},
	})
	require.Equal(t, "VERSION_CONFLICT", code(t, err))
	require.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestVersionConflictWithoutTransactionRebuildsAggregates(t *testing.T) {
	mem := newMemStore(memPatient())
	mem.conflicts = 1
	svc := &billing.Service{Store: mem, Log: zerolog.Nop(), Atomic: false}

	res, err := svc.GenerateOrUpdateBill(context.Background(), billing.Submission{
		Kind: billing.KindNewBill, PatientID: "p-1", Items: []ledger.Item{line("A", "10")},
	})
	require.NoError(t, err)
	require.True(t, res.Patient.TotalCost.Equal(d("10")))
	stored, _ := mem.GetPatient(context.Background(), "p-1")
	require.True(t, stored.PendingAmount.Equal(d("10")))
}

func TestAggregateFailureAfterWritesIsPartial(t *testing.T) {
	mem := newMemStore(memPatient())
	mem.failUpdate = errors.New("connection reset")
	svc := &billing.Service{Store: mem, Log: zerolog.Nop()}

	_, err := svc.GenerateOrUpdateBill(context.Background(), billing.Submission{
		Kind: billing.KindNewBill, PatientID: "p-1", Items: []ledger.Item{line("A", "10")}, PaidAmount: d("10"),
	})
	var pf *billing.PartialFailureError
	require.ErrorAs(t, err, &pf)
	require.Equal(t, billing.StageAggregate, pf.Stage)
	require.NotEmpty(t, pf.PaymentID)
}

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-klinik/internal/events"
	"github.com/noah-isme/backend-klinik/internal/resilience"
)

// Task types handled by the worker.
const (
	TypeBalanceAudit = "balance:audit"
	TypeBalanceSweep = "balance:sweep"
)

// QueueBalance is the asynq queue balance tasks are enqueued on.
const QueueBalance = "balance"

// AuditPayload identifies the patient whose aggregates should be checked.
type AuditPayload struct {
	PatientID string `json:"patient_id"`
}

// NewBalanceAudit builds a balance audit task for one patient. Tasks for the
// same patient are deduplicated for the unique window.
func NewBalanceAudit(patientID string, unique time.Duration) (*asynq.Task, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, errors.New("tasks: patient id is required")
	}
	payload, err := json.Marshal(AuditPayload{PatientID: patientID})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueBalance), asynq.MaxRetry(5)}
	if unique > 0 {
		opts = append(opts, asynq.Unique(unique))
	}
	return asynq.NewTask(TypeBalanceAudit, payload, opts...), nil
}

// NewBalanceSweep builds the periodic task that audits every patient.
func NewBalanceSweep() *asynq.Task {
	return asynq.NewTask(TypeBalanceSweep, nil, asynq.Queue(QueueBalance), asynq.MaxRetry(1))
}

// Enqueuer is the part of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier enqueues a balance audit for every event that changes a
// patient's balance. With a Breaker set, enqueueing stops while Redis keeps
// failing and Notify returns resilience.ErrOpenCircuit immediately.
type Notifier struct {
	Client  Enqueuer
	Unique  time.Duration
	Breaker *resilience.Breaker
}

// Notify implements events.Notifier.
func (n Notifier) Notify(ctx context.Context, ev events.Event) error {
	if n.Client == nil || !events.PatientScoped(ev.Topic) {
		return nil
	}
	task, err := NewBalanceAudit(ev.AggregateID, n.Unique)
	if err != nil {
		return err
	}
	enqueue := func(ctx context.Context) error {
		_, err := n.Client.EnqueueContext(ctx, task)
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}
	if n.Breaker != nil {
		err = n.Breaker.Do(ctx, enqueue)
	} else {
		err = enqueue(ctx)
	}
	if err != nil {
		return fmt.Errorf("tasks: enqueue %s: %w", TypeBalanceAudit, err)
	}
	return nil
}

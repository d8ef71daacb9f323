package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes every event to a structured log.
type LogNotifier struct {
	Log zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	evt := n.Log.Info()
	if ev.Topic == TopicReconcilePartialFailure {
		evt = n.Log.Error()
	}
	evt.Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Msg("domain_event")
	return nil
}

// MemoryStore keeps events in memory. It is meant for tests and tools that
// run without a database.
type MemoryStore struct {
	Events []Event
}

// InsertEvent implements EventStore.
func (m *MemoryStore) InsertEvent(_ context.Context, ev Event) error {
	m.Events = append(m.Events, ev)
	return nil
}

package sqlite

import (
	"context"

	"github.com/noah-isme/backend-klinik/internal/audit"
	"github.com/noah-isme/backend-klinik/internal/events"
)

// InsertEvent implements events.EventStore.
func (s *Store) InsertEvent(ctx context.Context, ev events.Event) error {
	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Topic, ev.AggregateID, payload, formatTime(ev.OccurredAt),
	)
	return mapError("insert event", err)
}

// ListEvents returns the events recorded for one aggregate, oldest first.
func (s *Store) ListEvents(ctx context.Context, aggregateID string) ([]events.Event, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, topic, aggregate_id, payload, occurred_at FROM domain_events
		 WHERE aggregate_id = ? ORDER BY occurred_at, id`, aggregateID)
	if err != nil {
		return nil, mapError("list events", err)
	}
	defer rows.Close()
	out := make([]events.Event, 0)
	for rows.Next() {
		var ev events.Event
		var payload, occurred string
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &occurred); err != nil {
			return nil, mapError("scan event", err)
		}
		ev.Payload = []byte(payload)
		if ev.OccurredAt, err = parseTime(occurred); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, mapError("iterate events", rows.Err())
}

// InsertAuditLog implements audit.Store.
func (s *Store) InsertAuditLog(ctx context.Context, e audit.Entry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = string(e.Metadata)
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO audit_logs (id, actor_kind, actor_id, action, resource_type, resource_id, method, path,
		 route, status, ip, user_agent, request_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorKind, e.ActorID, e.Action, e.ResourceType, e.ResourceID, e.Method, e.Path,
		e.Route, e.Status, e.IP, e.UserAgent, e.RequestID, metadata, formatTime(e.CreatedAt),
	)
	return mapError("insert audit log", err)
}

// ListAuditLogs implements audit.Store.
func (s *Store) ListAuditLogs(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, actor_kind, actor_id, action, resource_type, resource_id, method, path,
		 route, status, ip, user_agent, request_id, IFNULL(metadata, ''), created_at
		 FROM audit_logs ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, mapError("list audit logs", err)
	}
	defer rows.Close()
	out := make([]audit.Entry, 0, limit)
	for rows.Next() {
		var e audit.Entry
		var metadata, created string
		if err := rows.Scan(&e.ID, &e.ActorKind, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Method, &e.Path,
			&e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &metadata, &created); err != nil {
			return nil, mapError("scan audit log", err)
		}
		if metadata != "" {
			e.Metadata = []byte(metadata)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapError("iterate audit logs", rows.Err())
}

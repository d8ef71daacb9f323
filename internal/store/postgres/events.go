package postgres

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
	_, err := s.q.Exec(ctx,
		`INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at) VALUES ($1, $2, $3, $4::jsonb, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, payload, ev.OccurredAt,
	)
	return mapError("insert event", err)
}

// InsertAuditLog implements audit.Store.
func (s *Store) InsertAuditLog(ctx context.Context, e audit.Entry) error {
	var metadata *string
	if len(e.Metadata) > 0 {
		m := string(e.Metadata)
		metadata = &m
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO audit_logs (id, actor_kind, actor_id, action, resource_type, resource_id, method, path,
		 route, status, ip, user_agent, request_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15)`,
		e.ID, e.ActorKind, e.ActorID, e.Action, e.ResourceType, e.ResourceID, e.Method, e.Path,
		e.Route, e.Status, e.IP, e.UserAgent, e.RequestID, metadata, e.CreatedAt,
	)
	return mapError("insert audit log", err)
}

// ListAuditLogs implements audit.Store.
func (s *Store) ListAuditLogs(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id::text, actor_kind, actor_id, action, resource_type, resource_id, method, path,
		 route, status, ip, user_agent, request_id, metadata, created_at
		 FROM audit_logs ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapError("list audit logs", err)
	}
	defer rows.Close()
	out := make([]audit.Entry, 0, limit)
	for rows.Next() {
		var e audit.Entry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.ActorKind, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Method, &e.Path,
			&e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &metadata, &e.CreatedAt); err != nil {
			return nil, mapError("scan audit log", err)
		}
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		out = append(out, e)
	}
	return out, mapError("iterate audit logs", rows.Err())
}

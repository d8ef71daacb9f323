package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/obs"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindOperator represents an authenticated front-office operator.
	ActorKindOperator ActorKind = "operator"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind ActorKind
	ID   string
}

// Entry is one persisted audit record.
type Entry struct {
	ID           string          `json:"id"`
	ActorKind    string          `json:"actor_kind"`
	ActorID      string          `json:"actor_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        string          `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, e Entry) error
	ListAuditLogs(ctx context.Context, limit, offset int) ([]Entry, error)
}

// Service persists audit logs for billing mutations.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
	Now          func() time.Time
}

// Record persists an audit log entry when auditing is enabled.
func (s Service) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	finalStatus := status
	if finalStatus == 0 {
		finalStatus = http.StatusOK
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	return s.Store.InsertAuditLog(ctx, Entry{
		ID:           uuid.NewString(),
		ActorKind:    string(normalizeActorKind(actor.Kind)),
		ActorID:      strings.TrimSpace(actor.ID),
		Action:       buildAction(action, req.Method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        route,
		Status:       finalStatus,
		IP:           common.ClientIP(req),
		UserAgent:    strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:    strings.TrimSpace(req.Header.Get("X-Request-ID")),
		Metadata:     toJSON(metadata, req.URL.RawQuery),
		CreatedAt:    now,
	})
}

// buildAction defaults to "METHOD /route".
func buildAction(action, method, route string) string {
	if a := strings.TrimSpace(action); a != "" {
		return a
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(method) + " " + route
}

// buildResource defaults to the route's segments below /api/v1 joined with
// dots, e.g. "patients.{patientID}.bills".
func buildResource(resourceType, route string) string {
	if rt := strings.TrimSpace(resourceType); rt != "" {
		return rt
	}
	trimmed := strings.TrimPrefix(strings.Trim(route, "/ "), "api/v1/")
	if trimmed == "" {
		return "unknown"
	}
	return strings.ReplaceAll(trimmed, "/", ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	if kind == ActorKindOperator || kind == ActorKindSystem {
		return kind
	}
	return ActorKindAnonymous
}

// toJSON keeps valid metadata, otherwise records the query string, if any.
func toJSON(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 && json.Valid(metadata) {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, _ := json.Marshal(map[string]string{"query": query})
	return data
}

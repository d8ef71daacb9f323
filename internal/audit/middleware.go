package audit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/obs"
)

// HTTPRecorder writes an audit entry after a mutating request has been served.
type HTTPRecorder struct {
	Service   *Service
	OnError   func(error)
	ActorFunc func(*http.Request) Actor
}

// HTTPConfig describes the audited resource of a route. Action defaults to
// "METHOD /route" and ResourceType to the route's path segments.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware records the request once next returns. Reads are never audited.
func (rec HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rec.Service == nil || !rec.Service.Enabled || isRead(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			sr := obs.NewStatusRecorder(w)
			next.ServeHTTP(sr, r)

			var resourceID string
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(r, cfg.ResourceIDParam)
			}
			meta := map[string]any{}
			if role := common.ActorRole(r.Context()); role != "" {
				meta["actor_role"] = role
			}
			if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
				meta["idempotency_key"] = key
			}
			if cfg.MetadataFunc != nil {
				for k, v := range cfg.MetadataFunc(r, sr.Status()) {
					meta[k] = v
				}
			}
			var raw []byte
			if len(meta) > 0 {
				raw, _ = json.Marshal(meta)
			}

			err := rec.Service.Record(r.Context(), rec.actor(r), cfg.Action, cfg.ResourceType, resourceID, r, sr.Status(), raw)
			if err != nil && rec.OnError != nil {
				rec.OnError(err)
			}
		})
	}
}

func (rec HTTPRecorder) actor(r *http.Request) Actor {
	if rec.ActorFunc != nil {
		return rec.ActorFunc(r)
	}
	if id, ok := common.ActorID(r.Context()); ok && id != "" {
		return Actor{Kind: ActorKindOperator, ID: id}
	}
	return Actor{Kind: ActorKindAnonymous}
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

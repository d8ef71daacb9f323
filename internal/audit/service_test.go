package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/obs"
)

type stubStore struct {
	lastInsert Entry
	called     bool
}

func (s *stubStore) InsertAuditLog(_ context.Context, e Entry) error {
	s.called = true
	s.lastInsert = e
	return nil
}

func (s *stubStore) ListAuditLogs(context.Context, int, int) ([]Entry, error) {
	return nil, nil
}

func TestServiceRecord(t *testing.T) {
	store := &stubStore{}
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := Service{Store: store, Enabled: true, SamplingRate: 1, Now: func() time.Time { return fixed }}

	req := httptest.NewRequest(http.MethodPost, "https://api.test/api/v1/patients/p-1/bills?dry=false", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	ctx := common.WithActorID(req.Context(), "frontdesk-1")
	ctx = obs.WithRoutePattern(ctx, "/api/v1/patients/{patientID}/bills")
	req = req.WithContext(ctx)

	err := svc.Record(req.Context(), Actor{Kind: ActorKindOperator, ID: "frontdesk-1"}, "", "", "p-1", req, http.StatusCreated, nil)
	require.NoError(t, err)
	require.True(t, store.called)

	got := store.lastInsert
	require.NotEmpty(t, got.ID)
	require.Equal(t, string(ActorKindOperator), got.ActorKind)
	require.Equal(t, "frontdesk-1", got.ActorID)
	require.Equal(t, "POST /api/v1/patients/{patientID}/bills", got.Action)
	require.Equal(t, "patients.{patientID}.bills", got.ResourceType)
	require.Equal(t, "p-1", got.ResourceID)
	require.Equal(t, "10.0.0.2", got.IP)
	require.Equal(t, "req-123", got.RequestID)
	require.Equal(t, http.StatusCreated, got.Status)
	require.Equal(t, fixed, got.CreatedAt)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(got.Metadata, &meta))
	require.Equal(t, "dry=false", meta["query"])
}

func TestServiceRecordUnknownActorIsAnonymous(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true}
	req := httptest.NewRequest(http.MethodPost, "/recompute", nil)

	require.NoError(t, svc.Record(req.Context(), Actor{Kind: "robot"}, "recompute", "patient", "", req, 0, []byte(`{"drifted":true}`)))
	require.Equal(t, string(ActorKindAnonymous), store.lastInsert.ActorKind)
	require.Equal(t, "recompute", store.lastInsert.Action)
	require.Equal(t, http.StatusOK, store.lastInsert.Status)
	require.JSONEq(t, `{"drifted":true}`, string(store.lastInsert.Metadata))
}

func TestServiceRecordDisabled(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: false}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, svc.Record(req.Context(), Actor{}, "", "", "", req, http.StatusOK, nil))
	require.False(t, store.called)
}

func TestMiddlewareRecordsOperator(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}
	h := rec.Middleware(HTTPConfig{Action: "bill.cancel", ResourceType: "bill"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/bills/b-1/cancel", nil)
	req = req.WithContext(common.WithActorID(req.Context(), "nurse-7"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, store.called)
	require.Equal(t, "nurse-7", store.lastInsert.ActorID)
	require.Equal(t, string(ActorKindOperator), store.lastInsert.ActorKind)
	require.Equal(t, http.StatusAccepted, store.lastInsert.Status)
}

func TestMiddlewareMetadataAndReads(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}
	h := rec.Middleware(HTTPConfig{ResourceType: "payment"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	read := httptest.NewRequest(http.MethodGet, "/patients/p-1/payments", nil)
	h.ServeHTTP(httptest.NewRecorder(), read)
	require.False(t, store.called)

	req := httptest.NewRequest(http.MethodPost, "/patients/p-1/payments", nil)
	req.Header.Set("Idempotency-Key", "pay-123")
	req = req.WithContext(common.WithActorRole(common.WithActorID(req.Context(), "op-2"), "frontdesk"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, store.called)
	require.Equal(t, "POST /patients/p-1/payments", store.lastInsert.Action)
	require.JSONEq(t, `{"actor_role":"frontdesk","idempotency_key":"pay-123"}`, string(store.lastInsert.Metadata))
}

package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/common"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "json", "warn")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	log = newLogger(&buf, "json", "bogus")
	log.Info().Msg("info by default")
	assert.Contains(t, buf.String(), "info by default")
}

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(RequestLogger{Logger: newLogger(&buf, "json", "debug")}.Middleware)
	r.Get("/patients/{patientID}/bills", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/patients/p-42/bills", nil)
	req = req.WithContext(common.WithActorRole(common.WithActorID(req.Context(), "op-7"), "frontdesk"))
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "/patients/{patientID}/bills", line["route"])
	assert.Equal(t, "p-42", line["patient_id"])
	assert.Equal(t, "op-7", line["actor_id"])
	assert.Equal(t, "frontdesk", line["actor_role"])
	assert.EqualValues(t, 404, line["status"])
}

func TestParseBucketsCSV(t *testing.T) {
	assert.Equal(t, []float64{5, 25.5, 100}, ParseBucketsCSV("5, 25.5,,x,-1,100"))
	assert.Nil(t, ParseBucketsCSV(" "))
}

package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/auth"
	"github.com/noah-isme/backend-klinik/internal/common"
)

const secret = "super-secret-key"

func newTokens(t *testing.T) *auth.Tokens {
	t.Helper()
	tokens, err := auth.NewTokens(auth.Config{Secret: secret, TTL: time.Hour})
	require.NoError(t, err)
	return tokens
}

func TestIssueAndParse(t *testing.T) {
	tokens := newTokens(t)
	signed, expires, err := tokens.Issue("frontdesk-1", auth.RoleAdmin)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := tokens.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "frontdesk-1", claims.Subject)
	require.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	_, _, err := newTokens(t).Issue("frontdesk-1", "superuser")
	require.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	tokens := newTokens(t)
	tokens.WithNow(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	signed, _, err := tokens.Issue("frontdesk-1", auth.RoleFrontDesk)
	require.NoError(t, err)

	tokens.WithNow(time.Now)
	_, err = tokens.Parse(signed)
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
}

func TestParseRejectsAlgorithmMismatch(t *testing.T) {
	now := time.Now()
	built, err := jwt.NewBuilder().
		Subject("frontdesk-1").
		Issuer("backend-klinik").
		Audience([]string{"klinik-frontdesk"}).
		IssuedAt(now).
		Expiration(now.Add(time.Minute)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS384, []byte(secret)))
	require.NoError(t, err)

	_, err = newTokens(t).Parse(string(signed))
	require.Error(t, err)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	other, err := auth.NewTokens(auth.Config{Secret: "another-secret"})
	require.NoError(t, err)
	signed, _, err := other.Issue("frontdesk-1", auth.RoleFrontDesk)
	require.NoError(t, err)

	_, err = newTokens(t).Parse(signed)
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	tokens := newTokens(t)
	mw := auth.Middleware{Tokens: tokens}

	var seenActor, seenRole string
	protected := mw.RequireAuth(auth.RequireRole(auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenActor, _ = common.ActorID(r.Context())
		seenRole = common.ActorRole(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/recompute", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	frontdesk, _, err := tokens.Issue("frontdesk-1", auth.RoleFrontDesk)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/recompute", nil)
	req.Header.Set("Authorization", "Bearer "+frontdesk)
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	admin, _, err := tokens.Issue("admin-1", auth.RoleAdmin)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/recompute", nil)
	req.Header.Set("Authorization", "bearer "+admin)
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "admin-1", seenActor)
	require.Equal(t, auth.RoleAdmin, seenRole)
}

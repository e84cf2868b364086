package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"crowdfund/internal/adapter/repo"
	"crowdfund/internal/domain"
	"crowdfund/internal/donation"
	"crowdfund/internal/http/handlers"
	"crowdfund/internal/middleware"
)

const testSecret = "router-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := repo.OpenBolt(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenBolt() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	app := &handlers.App{
		Projects:  store,
		Donations: store,
		Recorder:  donation.NewRecorder(store, store, nil, nil),
	}
	return NewRouter(app, Options{
		JWTSecret: testSecret,
		Logger:    zerolog.Nop(),
		CountryLookup: func(string) (string, error) {
			return "", domain.ErrNotFound
		},
	})
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	tok, err := middleware.SignJWT(testSecret, middleware.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	return "Bearer " + tok
}

func TestRouterPublicRoutes(t *testing.T) {
	h := newTestRouter(t)
	for _, path := range []string{"/v1/healthz", "/v1/projects", "/v1/openapi.json", "/v1/docs"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("GET %s: missing request id header", path)
		}
	}
}

func TestRouterDonationsRequireBearer(t *testing.T) {
	h := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/donations/mine", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/donations/mine", nil)
	req.Header.Set("Authorization", bearer(t, "U1"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var body struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil || len(body.Items) != 0 {
		t.Fatalf("body = %s err = %v", rr.Body.String(), err)
	}
}

func TestRouterProjectCreateNeedsAuth(t *testing.T) {
	h := newTestRouter(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/projects", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRouterWebhookWithoutVerifier(t *testing.T) {
	h := newTestRouter(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/webhooks/card", nil).WithContext(context.Background()))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
)

func testKeypair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, account string, expires time.Time) string {
	t.Helper()
	claims := AccountClaims{
		Account: account,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

// authedRouter builds a chi router with the full auth stack and a probe
// handler echoing the authenticated account.
func authedRouter(key *rsa.PrivateKey) http.Handler {
	r := chi.NewRouter()
	r.Route("/tenants/{tenantId}", func(r chi.Router) {
		r.Use(RequireAuth(&key.PublicKey))
		r.Use(RequireTenant)
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte(AccountIDFromContext(req.Context())))
		})
	})
	return r
}

func TestRequireAuthRejectsMissingAndMalformedTokens(t *testing.T) {
	key := testKeypair(t)
	handler := authedRouter(key)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/tenants/t1/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestRequireAuthRejectsExpiredToken(t *testing.T) {
	key := testKeypair(t)
	handler := authedRouter(key)

	token := signToken(t, key, "t1", time.Now().Add(-time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/tenants/t1/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}

func TestRequireAuthRejectsWrongKey(t *testing.T) {
	key := testKeypair(t)
	otherKey := testKeypair(t)
	handler := authedRouter(key)

	token := signToken(t, otherKey, "t1", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/tenants/t1/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token signed with foreign key, got %d", rr.Code)
	}
}

func TestRequireTenantMatchingAccountPasses(t *testing.T) {
	key := testKeypair(t)
	handler := authedRouter(key)

	token := signToken(t, key, "t1", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/tenants/t1/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != "t1" {
		t.Errorf("expected account t1 in context, got %q", got)
	}
}

func TestRequireTenantMismatchAnswers404(t *testing.T) {
	key := testKeypair(t)
	handler := authedRouter(key)

	// Valid token for t1 probing t2's resources must look like a miss,
	// not a permission failure.
	token := signToken(t, key, "t1", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/tenants/t2/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-tenant access, got %d", rr.Code)
	}
}

func TestRequireTenantAdminCrossesTenants(t *testing.T) {
	key := testKeypair(t)
	handler := authedRouter(key)

	token := signToken(t, key, AdminAccountID, time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/tenants/t2/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin account, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != AdminAccountID {
		t.Errorf("expected admin account in context, got %q", got)
	}
}

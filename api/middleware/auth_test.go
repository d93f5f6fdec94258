package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/auth"
	"github.com/nanophoto/nanophoto-backend/pkg/config"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testKeys(t *testing.T, cfg config.JWTConfig) *auth.Keys {
	t.Helper()
	keys, err := auth.NewKeys(cfg)
	if err != nil {
		t.Fatalf("new keys: %v", err)
	}
	return keys
}

func mintTestToken(t *testing.T, accountID uuid.UUID, email string) string {
	t.Helper()
	token, err := testKeys(t, testJWT).Issue(time.Now(), auth.Identity{AccountID: accountID, Email: email})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	foreign, err := testKeys(t, config.JWTConfig{Secret: "other", Issuer: "issuer", ExpirationMinutes: 60}).
		Issue(time.Now(), auth.Identity{AccountID: uuid.New()})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	cases := map[string]string{
		"missing":        "",
		"empty bearer":   "Bearer ",
		"garbage":        "Bearer invalid",
		"foreign secret": "Bearer " + foreign,
	}
	handler := Auth(testKeys(t, testJWT), config.AdminConfig{}, nil)(okHandler())
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", name, resp.Code)
		}
	}
}

func TestAuthWithoutVerifier(t *testing.T) {
	handler := Auth(nil, config.AdminConfig{}, nil)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, uuid.New(), ""))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"abc", "abc", true},
		{"Bearer", "Bearer", true},
		{"  ", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tc.header)
		got, ok := bearerToken(req)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%q: got (%q, %v) want (%q, %v)", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAuthSeedsIdentity(t *testing.T) {
	accountID := uuid.New()
	token := mintTestToken(t, accountID, "Owner@Example.com")
	admins := config.AdminConfig{Emails: []string{"owner@example.com"}}

	var captured struct {
		account string
		email   string
		admin   bool
	}
	handler := Auth(testKeys(t, testJWT), admins, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.account = AccountIDFromContext(r.Context())
		captured.email = EmailFromContext(r.Context())
		captured.admin = IsAdminFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.account != accountID.String() {
		t.Fatalf("expected account %s got %s", accountID, captured.account)
	}
	if captured.email != "owner@example.com" {
		t.Fatalf("expected normalized email got %s", captured.email)
	}
	if !captured.admin {
		t.Fatal("expected allow-listed email to be admin")
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), uuid.NewString(), "user@example.com", false))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = req.WithContext(WithIdentity(req.Context(), uuid.NewString(), "ops@example.com", true))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

type stubActiveChecker struct {
	err error
}

func (s stubActiveChecker) CheckActive(context.Context, uuid.UUID) error {
	return s.err
}

func TestActiveAccount(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"active", nil, http.StatusOK},
		{"banned", pkgerrors.New(pkgerrors.CodeForbidden, "account is banned"), http.StatusForbidden},
		{"not yet bootstrapped", pkgerrors.New(pkgerrors.CodeNotFound, "account not found"), http.StatusOK},
		{"store down", pkgerrors.New(pkgerrors.CodeDependency, "load account"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		handler := ActiveAccount(stubActiveChecker{err: tt.err}, nil)(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), uuid.NewString(), "", false))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, resp.Code)
		}
	}
}

func TestActiveAccountRequiresIdentity(t *testing.T) {
	handler := ActiveAccount(stubActiveChecker{}, nil)(okHandler())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

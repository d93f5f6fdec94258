package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/config"
)

var testJWT = config.JWTConfig{
	Secret:            "secret",
	Issuer:            "nanophoto",
	ExpirationMinutes: 30,
	LeewaySeconds:     5,
}

func mustKeys(t *testing.T, cfg config.JWTConfig) *Keys {
	t.Helper()
	keys, err := NewKeys(cfg)
	if err != nil {
		t.Fatalf("new keys: %v", err)
	}
	return keys
}

func signRaw(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestNewKeysValidatesConfig(t *testing.T) {
	bad := []config.JWTConfig{
		{Issuer: "nanophoto", ExpirationMinutes: 1},
		{Secret: "s", ExpirationMinutes: 1},
		{Secret: "s", Issuer: "nanophoto"},
		{Secret: "s", Issuer: "nanophoto", ExpirationMinutes: 1, LeewaySeconds: -1},
	}
	for i, cfg := range bad {
		if _, err := NewKeys(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}

func TestIssueAndVerify(t *testing.T) {
	keys := mustKeys(t, testJWT)
	accountID := uuid.New()

	token, err := keys.Issue(time.Now(), Identity{AccountID: accountID, Email: " Ada@Example.com "})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := keys.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.AccountID != accountID {
		t.Fatalf("expected account %s, got %s", accountID, id.AccountID)
	}
	if id.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", id.Email)
	}
	if id.TokenID == "" {
		t.Fatal("expected generated token id")
	}
}

func TestVerifyRejects(t *testing.T) {
	keys := mustKeys(t, testJWT)
	valid, err := keys.Issue(time.Now(), Identity{AccountID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other := testJWT
	other.Secret = "different"
	foreign, err := mustKeys(t, other).Issue(time.Now(), Identity{AccountID: uuid.New()})
	if err != nil {
		t.Fatalf("issue foreign: %v", err)
	}
	expired, err := keys.Issue(time.Now().Add(-time.Hour), Identity{AccountID: uuid.New()})
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	wrongIssuer := signRaw(t, jwt.SigningMethodHS256, []byte(testJWT.Secret), accessClaims{
		UserID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	noExpiry := signRaw(t, jwt.SigningMethodHS256, []byte(testJWT.Secret), accessClaims{
		UserID:           uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testJWT.Issuer},
	})
	wrongAlg := signRaw(t, jwt.SigningMethodHS512, []byte(testJWT.Secret), accessClaims{
		UserID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	malformedAccount := signRaw(t, jwt.SigningMethodHS256, []byte(testJWT.Secret), accessClaims{
		UserID: "not-a-uuid",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})

	cases := map[string]string{
		"tampered":          valid + "x",
		"foreign secret":    foreign,
		"expired":           expired,
		"wrong issuer":      wrongIssuer,
		"missing exp":       noExpiry,
		"wrong algorithm":   wrongAlg,
		"malformed account": malformedAccount,
	}
	for name, token := range cases {
		if _, err := keys.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyAccountClaims(t *testing.T) {
	keys := mustKeys(t, testJWT)
	accountID := uuid.New()

	subjectOnly := signRaw(t, jwt.SigningMethodHS256, []byte(testJWT.Secret), accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	id, err := keys.Verify(subjectOnly)
	if err != nil {
		t.Fatalf("verify sub-only token: %v", err)
	}
	if id.AccountID != accountID {
		t.Fatalf("expected sub fallback to %s, got %s", accountID, id.AccountID)
	}

	anonymous := signRaw(t, jwt.SigningMethodHS256, []byte(testJWT.Secret), accessClaims{
		Email: "nobody@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	if _, err := keys.Verify(anonymous); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}

	if _, err := keys.Issue(time.Now(), Identity{}); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("issue without account: %v", err)
	}
}

func TestVerifyHonoursLeeway(t *testing.T) {
	keys := mustKeys(t, testJWT)
	// expired two seconds ago, inside the five second leeway
	token, err := keys.Issue(time.Now().Add(-30*time.Minute-2*time.Second), Identity{AccountID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := keys.Verify(token); err != nil {
		t.Fatalf("expected token inside leeway to verify: %v", err)
	}
}

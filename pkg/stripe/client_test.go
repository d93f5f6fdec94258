package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/nanophoto/nanophoto-backend/pkg/config"
)

const testSecret = "whsec_1"

func TestNewClientValidatesConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{"secret only", config.StripeConfig{Secret: testSecret}, false},
		{"test key", config.StripeConfig{APIKey: "sk_test_123", Secret: testSecret, Env: "test"}, false},
		{"restricted live key", config.StripeConfig{APIKey: "rk_live_123", Secret: testSecret, Env: "LIVE"}, false},
		{"live key in test", config.StripeConfig{APIKey: "sk_live_123", Secret: testSecret, Env: "test"}, true},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_123", Env: "test"}, true},
		{"blank secret list", config.StripeConfig{Secret: " , ", Env: "test"}, true},
		{"unknown env", config.StripeConfig{Secret: testSecret, Env: "staging"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(context.Background(), tc.cfg, nil)
			if tc.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v got %v", tc.wantErr, err)
			}
		})
	}
}

func TestVerifyEvent(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{Secret: testSecret}, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	payload := signedPayload(t, "evt_ok", false)
	event, err := client.VerifyEvent(payload.Payload, payload.Header)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.ID != "evt_ok" {
		t.Fatalf("unexpected event %q", event.ID)
	}

	if _, err := client.VerifyEvent(payload.Payload, "t=1,v1=bad"); err == nil {
		t.Fatal("expected signature error")
	}

	live := signedPayload(t, "evt_live", true)
	if _, err := client.VerifyEvent(live.Payload, live.Header); !errors.Is(err, ErrLivemodeMismatch) {
		t.Fatalf("expected livemode mismatch, got %v", err)
	}
}

func TestVerifyEventAcceptsRolledSecret(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{Secret: "whsec_new, " + testSecret}, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	payload := signedPayload(t, "evt_rolled", false)
	if _, err := client.VerifyEvent(payload.Payload, payload.Header); err != nil {
		t.Fatalf("older secret should still verify: %v", err)
	}

	only, err := NewClient(context.Background(), config.StripeConfig{Secret: "whsec_new"}, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := only.VerifyEvent(payload.Payload, payload.Header); !errors.Is(err, webhook.ErrNoValidSignature) {
		t.Fatalf("expected ErrNoValidSignature, got %v", err)
	}
}

func TestSplitSecrets(t *testing.T) {
	if got := splitSecrets(" a, ,b,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected secrets %v", got)
	}
	if got := splitSecrets(" , "); len(got) != 0 {
		t.Fatalf("blank list should be empty, got %v", got)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.Environment() != "" {
		t.Fatal("nil client should report no environment")
	}
	if _, err := c.VerifyEvent(nil, ""); !errors.Is(err, ErrNoSigningSecret) {
		t.Fatalf("nil client must not verify, got %v", err)
	}
}

func signedPayload(t *testing.T, id string, livemode bool) *webhook.SignedPayload {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        "checkout.session.completed",
		"livemode":    livemode,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": map[string]any{"id": "cs_1"}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   raw,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
}

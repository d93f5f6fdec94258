package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

// Mode is the Stripe environment a deployment settles against.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

var (
	ErrNoSigningSecret = errors.New("stripe webhook signing secret is required")
	// ErrLivemodeMismatch marks a correctly signed event from the other environment.
	ErrLivemodeMismatch = errors.New("stripe event livemode does not match environment")
)

// Client verifies webhook deliveries for one Stripe environment. Several
// signing secrets may be active at once while an endpoint secret is rolled.
type Client struct {
	mode      Mode
	secrets   []string
	tolerance time.Duration
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Env)
	if err != nil {
		return nil, err
	}
	secrets := splitSecrets(cfg.Secret)
	if len(secrets) == 0 {
		return nil, ErrNoSigningSecret
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" && !keyMatchesMode(mode, key) {
		return nil, fmt.Errorf("stripe %s mode requires an sk_%s or rk_%s key", mode, mode, mode)
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":      string(mode),
			"signing_secrets": len(secrets),
		}), "stripe webhook verifier ready")
	}
	return &Client{mode: mode, secrets: secrets, tolerance: tolerance}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.mode)
}

// VerifyEvent checks the Stripe-Signature header against the raw payload
// with each active secret in turn, then decodes the event.
func (c *Client) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if c == nil || len(c.secrets) == 0 {
		return stripe.Event{}, ErrNoSigningSecret
	}
	opts := webhook.ConstructEventOptions{Tolerance: c.tolerance}
	var (
		event stripe.Event
		err   error
	)
	for _, secret := range c.secrets {
		event, err = webhook.ConstructEventWithOptions(payload, signature, secret, opts)
		if !errors.Is(err, webhook.ErrNoValidSignature) {
			break
		}
	}
	if err != nil {
		return stripe.Event{}, err
	}
	if event.Livemode != (c.mode == ModeLive) {
		return stripe.Event{}, ErrLivemodeMismatch
	}
	return event, nil
}

func parseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("stripe environment %q: must be %q or %q", raw, ModeTest, ModeLive)
	}
}

// splitSecrets accepts a comma separated list; the newest secret goes first.
func splitSecrets(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func keyMatchesMode(mode Mode, key string) bool {
	return strings.HasPrefix(key, "sk_"+string(mode)+"_") || strings.HasPrefix(key, "rk_"+string(mode)+"_")
}

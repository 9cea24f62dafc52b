package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/kitafinder-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/kitafinder-backend/pkg/errors"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	// SignatureHeader carries the processor's timestamped HMAC signature.
	SignatureHeader = "Stripe-Signature"

	defaultTolerance = 5 * time.Minute
)

var (
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client verifies and decodes webhook deliveries for one environment.
type Client struct {
	environment   string
	signingSecret string
	tolerance     time.Duration
}

// NewClient validates the webhook secret and environment.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe webhook verifier initialized")
	}

	return &Client{
		environment:   env,
		signingSecret: signingSecret,
		tolerance:     tolerance,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// Verify checks the signature header over the raw payload and decodes the
// event envelope. Signature problems return CodeSignature; a verified but
// unusable envelope returns CodeValidation.
func (c *Client) Verify(payload []byte, signatureHeader string) (*stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier not configured")
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "missing signature header")
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, c.signingSecret, c.tolerance); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "invalid signature")
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event body")
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id missing")
	}
	if strings.TrimSpace(string(event.Type)) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event type missing")
	}
	if event.Data == nil || len(event.Data.Raw) == 0 || string(event.Data.Raw) == "null" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event data.object missing")
	}
	return &event, nil
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

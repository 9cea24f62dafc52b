package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	brevo "github.com/getbrevo/brevo-go/lib"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/kitafinder-backend/pkg/config"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
)

// Email is a single transactional message addressed to one recipient.
type Email struct {
	ToEmail string `validate:"required,email"`
	ToName  string
	Subject string `validate:"required,max=200"`
	HTML    string `validate:"required"`
	Text    string `validate:"required"`
	Tags    []string
}

// Sender delivers an Email and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, email Email) (string, error)
}

var validate = validator.New()

// Validate checks the email is deliverable before it reaches a provider.
func Validate(email Email) error {
	if err := validate.Struct(email); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid email: %s failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("invalid email: %w", err)
	}
	return nil
}

type transactionalAPI interface {
	SendTransacEmail(ctx context.Context, email brevo.SendSmtpEmail) (brevo.CreateSmtpEmail, *http.Response, error)
}

// BrevoSender sends through the Brevo transactional email API.
type BrevoSender struct {
	api       transactionalAPI
	fromEmail string
	fromName  string
}

// NewBrevoSender builds a sender from the notifications config.
func NewBrevoSender(cfg config.NotificationsConfig) (*BrevoSender, error) {
	key := strings.TrimSpace(cfg.BrevoAPIKey)
	if key == "" {
		return nil, errors.New("brevo api key is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("sender email is required")
	}
	brevoCfg := brevo.NewConfiguration()
	brevoCfg.AddDefaultHeader("api-key", key)
	client := brevo.NewAPIClient(brevoCfg)
	return &BrevoSender{
		api:       client.TransactionalEmailsApi,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}, nil
}

func (s *BrevoSender) Send(ctx context.Context, email Email) (string, error) {
	if err := Validate(email); err != nil {
		return "", err
	}
	payload := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.fromName,
			Email: s.fromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: email.ToEmail, Name: email.ToName},
		},
		Subject:     email.Subject,
		HtmlContent: email.HTML,
		TextContent: email.Text,
		Tags:        email.Tags,
	}
	res, resp, err := s.api.SendTransacEmail(ctx, payload)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("brevo send failed with status %d: %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("brevo send failed: %w", err)
	}
	return res.MessageId, nil
}

// LogSender writes emails to the log instead of delivering them. It backs
// local environments without a provider key.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Send(ctx context.Context, email Email) (string, error) {
	if err := Validate(email); err != nil {
		return "", err
	}
	id := "log-" + uuid.NewString()
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"message_id": id,
			"to":         email.ToEmail,
			"subject":    email.Subject,
		}), "email delivery skipped (no provider configured)")
	}
	return id, nil
}

// New picks the Brevo sender when an API key is configured and the log sender otherwise.
func New(cfg config.NotificationsConfig, logg *logger.Logger) (Sender, error) {
	if !cfg.Enabled() {
		return NewLogSender(logg), nil
	}
	return NewBrevoSender(cfg)
}

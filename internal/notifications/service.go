// Package notifications renders and delivers billing emails to account owners.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/angelmondragon/kitafinder-backend/internal/accounts"
	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitafinder-backend/pkg/errors"
	"github.com/angelmondragon/kitafinder-backend/pkg/mailer"
)

// Money is an amount in the currency's minor unit.
type Money struct {
	Minor    int64
	Currency enums.Currency
}

// Notice asks for one email about one account.
type Notice struct {
	Kind      enums.NotificationKind
	AccountID string
	EventID   string
	Amount    *Money
}

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result describes what happened to a Notice. Err is set for skipped and failed.
type Result struct {
	Kind      enums.NotificationKind
	AccountID string
	EventID   string
	Outcome   Outcome
	MessageID string
	Err       error
}

// Notifier delivers notices.
type Notifier interface {
	Send(ctx context.Context, notice Notice) Result
}

type ServiceParams struct {
	Accounts accounts.Directory
	Sender   mailer.Sender
	Catalog  *Catalog
	BaseURL  string
}

type Service struct {
	accounts    accounts.Directory
	sender      mailer.Sender
	catalog     *Catalog
	listingsURL string
	billingURL  string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account directory required")
	}
	if params.Sender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mail sender required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "template catalog required")
	}
	base := strings.TrimRight(strings.TrimSpace(params.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "valid base url required")
	}
	listingsURL, _ := url.JoinPath(base, "dashboard", "listings")
	billingURL, _ := url.JoinPath(base, "dashboard", "billing")
	return &Service{
		accounts:    params.Accounts,
		sender:      params.Sender,
		catalog:     params.Catalog,
		listingsURL: listingsURL,
		billingURL:  billingURL,
	}, nil
}

// Send never returns an error; callers inspect the Result.
func (s *Service) Send(ctx context.Context, notice Notice) Result {
	res := Result{Kind: notice.Kind, AccountID: notice.AccountID, EventID: notice.EventID}

	contact, err := s.accounts.Contact(ctx, notice.AccountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return skipped(res, err)
		}
		return failed(res, fmt.Errorf("resolve recipient: %w", err))
	}
	if contact.Email == "" {
		return skipped(res, errors.New("account has no email address"))
	}

	data := TemplateData{
		Name:        greetingName(contact),
		ListingsURL: s.listingsURL,
		BillingURL:  s.billingURL,
	}
	if notice.Amount != nil {
		data.Amount = FormatAmount(notice.Amount.Minor, notice.Amount.Currency, contact.Locale)
	}

	msg, err := s.catalog.Render(notice.Kind, contact.Locale, data)
	if err != nil {
		return failed(res, fmt.Errorf("render %s: %w", notice.Kind, err))
	}

	id, err := s.sender.Send(ctx, mailer.Email{
		ToEmail: contact.Email,
		ToName:  contact.Name,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Tags:    []string{"billing", string(notice.Kind)},
	})
	if err != nil {
		return failed(res, err)
	}
	res.Outcome = OutcomeSent
	res.MessageID = id
	return res
}

func greetingName(c accounts.Contact) string {
	if c.Name != "" {
		return c.Name
	}
	if c.Locale == enums.LocaleDE {
		return "zusammen"
	}
	return "there"
}

func skipped(res Result, err error) Result {
	res.Outcome = OutcomeSkipped
	res.Err = err
	return res
}

func failed(res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	return res
}

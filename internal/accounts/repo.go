// Package accounts resolves account owner contact details.
package accounts

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/repo"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
)

var ErrNotFound = errors.New("account not found")

// Contact is who billing emails go to.
type Contact struct {
	AccountID string
	Email     string
	Name      string
	Locale    enums.Locale
}

// Directory looks up account contacts.
type Directory interface {
	Contact(ctx context.Context, accountID string) (Contact, error)
}

type Repository struct {
	base repo.Base
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(conn)}
}

func (r *Repository) Contact(ctx context.Context, accountID string) (Contact, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Contact{}, ErrNotFound
	}
	var account models.Account
	if err := r.base.DB(ctx).Where("id = ?", accountID).Take(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return Contact{
		AccountID: account.ID,
		Email:     strings.TrimSpace(account.Email),
		Name:      strings.TrimSpace(account.DisplayName),
		Locale:    enums.ParseLocale(account.Locale),
	}, nil
}

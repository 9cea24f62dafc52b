// Package listings exposes the listing operations billing is allowed to perform.
package listings

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/repo"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
)

// Suspender pauses an account's published listings when billing lapses.
type Suspender interface {
	SuspendForBilling(ctx context.Context, tx *gorm.DB, accountID string, at time.Time) (int64, error)
}

type Repository struct {
	base repo.Base
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(conn)}
}

// SuspendForBilling moves published listings to paused with reason billing.
// Listings that are already paused or still drafts are left alone, so
// repeating the call changes nothing.
func (r *Repository) SuspendForBilling(ctx context.Context, tx *gorm.DB, accountID string, at time.Time) (int64, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, errors.New("account id is required")
	}
	res := r.base.WithTx(tx).DB(ctx).
		Model(&models.Listing{}).
		Where("account_id = ? AND status = ?", accountID, enums.ListingStatusPublished).
		Updates(map[string]any{
			"status":        enums.ListingStatusPaused,
			"paused_reason": enums.ListingPauseReasonBilling,
			"paused_at":     at.UTC(),
			"updated_at":    at.UTC(),
		})
	return res.RowsAffected, res.Error
}

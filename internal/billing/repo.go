package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/repo"
	"github.com/angelmondragon/kitafinder-backend/pkg/db"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
)

// ErrStaleRecord means the record changed between read and write. Callers
// re-read and retry.
var ErrStaleRecord = errors.New("account billing record was modified concurrently")

// Repository handles account billing record persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByAccountID(ctx context.Context, accountID string) (*models.AccountBillingRecord, error)
	FindByCustomerID(ctx context.Context, customerID string) (*models.AccountBillingRecord, error)
	Create(ctx context.Context, record *models.AccountBillingRecord) error
	CompareAndUpdate(ctx context.Context, record *models.AccountBillingRecord, expectedUpdatedAt time.Time) error
}

type repository struct {
	base repo.Base
	now  func() time.Time
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{base: repo.NewBase(conn), now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.WithTx(tx), now: r.now}
}

// FindByAccountID returns nil, nil when the account has no record yet.
func (r *repository) FindByAccountID(ctx context.Context, accountID string) (*models.AccountBillingRecord, error) {
	return r.findOne(ctx, "account_id = ?", accountID)
}

// FindByCustomerID returns nil, nil when no account is linked to the customer.
func (r *repository) FindByCustomerID(ctx context.Context, customerID string) (*models.AccountBillingRecord, error) {
	if customerID == "" {
		return nil, nil
	}
	return r.findOne(ctx, "external_customer_id = ?", customerID)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.AccountBillingRecord, error) {
	var record models.AccountBillingRecord
	if err := r.base.DB(ctx).Where(query, arg).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Create inserts a new record. Losing an insert race on the account returns
// ErrStaleRecord so the caller retries against the winner's row.
func (r *repository) Create(ctx context.Context, record *models.AccountBillingRecord) error {
	now := r.timestamp()
	record.CreatedAt = now
	record.UpdatedAt = now
	if err := r.base.DB(ctx).Create(record).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrStaleRecord
		}
		return err
	}
	return nil
}

// CompareAndUpdate writes the mutable columns only if updated_at still equals
// expectedUpdatedAt, then advances record.UpdatedAt.
func (r *repository) CompareAndUpdate(ctx context.Context, record *models.AccountBillingRecord, expectedUpdatedAt time.Time) error {
	next := r.timestamp()
	if !next.After(expectedUpdatedAt) {
		next = expectedUpdatedAt.Add(time.Microsecond)
	}
	res := r.base.DB(ctx).
		Model(&models.AccountBillingRecord{}).
		Where("id = ? AND updated_at = ?", record.ID, expectedUpdatedAt).
		Updates(map[string]any{
			"external_customer_id":     record.ExternalCustomerID,
			"external_subscription_id": record.ExternalSubscriptionID,
			"status":                   record.Status,
			"status_event_at":          record.StatusEventAt,
			"updated_at":               next,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleRecord
	}
	record.UpdatedAt = next
	return nil
}

// timestamps are stored at microsecond precision so the concurrency token
// round-trips through postgres unchanged.
func (r *repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

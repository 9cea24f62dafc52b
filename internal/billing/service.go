package billing

import (
	"context"
	"strings"

	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitafinder-backend/pkg/errors"
)

// ServiceParams configure the billing read service.
type ServiceParams struct {
	Repo Repository
}

// Service answers whether an account may operate.
type Service struct {
	repo Repository
}

// AccountStatus is the read model other subsystems gate on.
type AccountStatus struct {
	AccountID      string              `json:"account_id"`
	Status         enums.BillingStatus `json:"status"`
	ServiceEnabled bool                `json:"service_enabled"`
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	return &Service{repo: params.Repo}, nil
}

// Status returns the account's billing status. Accounts without a record report none.
func (s *Service) Status(ctx context.Context, accountID string) (AccountStatus, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return AccountStatus{}, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	record, err := s.repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return AccountStatus{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing record")
	}
	status := enums.BillingStatusNone
	if record != nil {
		status = record.Status
	}
	return AccountStatus{
		AccountID:      accountID,
		Status:         status,
		ServiceEnabled: status.IsServiceEnabled(),
	}, nil
}

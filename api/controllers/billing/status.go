package billing

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/kitafinder-backend/api/responses"
	billingsvc "github.com/angelmondragon/kitafinder-backend/internal/billing"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
)

// StatusReader describes the billing read used by the status endpoint.
type StatusReader interface {
	Status(ctx context.Context, accountID string) (billingsvc.AccountStatus, error)
}

// AccountStatus returns whether the account in the path may operate.
func AccountStatus(svc StatusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID := chi.URLParam(r, "accountID")
		if logg != nil && accountID != "" {
			ctx = logg.WithAccountID(ctx, accountID)
		}

		status, err := svc.Status(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

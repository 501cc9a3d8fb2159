package api

import (
	"context"
	"net/http"

	"github.com/phrazzld/rhqueue/internal/api/shared"
	"github.com/phrazzld/rhqueue/internal/runninghub"
)

// AccountReader fetches the remote account balance.
type AccountReader interface {
	AccountStatus(ctx context.Context) (*runninghub.AccountStatus, error)
}

// AccountHandler serves the remote account status.
type AccountHandler struct {
	account AccountReader
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(account AccountReader) *AccountHandler {
	return &AccountHandler{account: account}
}

// GetAccount handles GET /api/account.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	status, err := h.account.AccountStatus(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read account status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

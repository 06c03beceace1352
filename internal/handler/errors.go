package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/circulation-system/internal/circulation"
)

const contentionRetryAfter = "1"

type errorResponse struct {
	Error  string `json:"error"`
	Entity string `json:"entity,omitempty"`
	ID     int64  `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func statusFor(kind error) int {
	switch kind {
	case circulation.ErrNotFound:
		return http.StatusNotFound
	case circulation.ErrPatronIneligible:
		return http.StatusForbidden
	case circulation.ErrItemUnavailable, circulation.ErrLoanAlreadyClosed:
		return http.StatusConflict
	case circulation.ErrLoanOverdue, circulation.ErrRenewalLimitExceeded, circulation.ErrInvalidEntity:
		return http.StatusUnprocessableEntity
	case circulation.ErrInvalidPaymentAmount:
		return http.StatusBadRequest
	case circulation.ErrContention:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError отображает ошибку сервиса в HTTP-ответ. Неклассифицированные
// ошибки и недоступность хранилища журналируются и отдаются как 500.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	kind := circulation.KindOf(err)
	status := statusFor(kind)

	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		h.writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	resp := errorResponse{Error: kind.Error()}
	var cerr *circulation.Error
	if errors.As(err, &cerr) {
		resp.Entity = cerr.Entity
		resp.ID = cerr.ID
		resp.Reason = cerr.Reason
	}

	if circulation.IsRetryable(err) {
		h.logger.Warn(op+" contention", zap.Error(err))
		w.Header().Set("Retry-After", contentionRetryAfter)
	}

	h.writeJSON(w, status, resp)
}

package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/repository"
	"storefront/internal/service"
)

// Виды ошибок в теле ответа
const (
	KindNotFound          = "NotFound"
	KindItemUnavailable   = "ItemUnavailable"
	KindInsufficientStock = "InsufficientStock"
	KindEmptyCart         = "EmptyCart"
	KindForbidden         = "Forbidden"
	KindValidationFailed  = "ValidationFailed"
	KindConflict          = "Conflict"
	KindInvalidTransition = "InvalidTransition"
	KindUnauthorized      = "Unauthorized"
	KindInternal          = "Internal"
)

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	ItemID    int64  `json:"item_id,omitempty"`
	ItemName  string `json:"item_name,omitempty"`
	Requested int64  `json:"requested,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

func mapErrorToStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, KindValidationFailed
	case errors.Is(err, repository.ErrItemUnavailable):
		return http.StatusNotFound, KindItemUnavailable
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, repository.ErrInsufficientStock):
		return http.StatusConflict, KindInsufficientStock
	case errors.Is(err, service.ErrEmptyCart):
		return http.StatusConflict, KindEmptyCart
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, KindForbidden
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict, KindConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, KindInvalidTransition
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, kind := mapErrorToStatus(err)
	resp := errorResponse{Error: kind, Message: err.Error()}
	switch kind {
	case KindConflict:
		resp.Retryable = true
	case KindInsufficientStock:
		var se *service.StockError
		if errors.As(err, &se) {
			available := se.Available
			resp.ItemID, resp.ItemName, resp.Requested, resp.Available = se.ItemID, se.ItemName, se.Requested, &available
		}
	case KindInternal:
		s.log.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		resp.Message = "internal error"
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: KindValidationFailed, Message: msg})
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/Dhoini/payment-reconciler/pkg/res"
	"github.com/gin-gonic/gin"
)

// respondError переводит доменную ошибку в HTTP статус
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrDuplicate):
		status, message = http.StatusConflict, "already exists"
	case errors.Is(err, domain.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUnauthenticated):
		status, message = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrUnauthorized):
		status, message = http.StatusForbidden, "forbidden"
	}

	_ = c.Error(err)
	res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: message, ErrorCode: status}, status, log)
	c.Abort()
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidInput
	}
	return id, nil
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusFor maps an error kind to its HTTP status. An unconfigured registry
// is a server fault rather than an outage.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindValidation, apperr.KindConflict, apperr.KindChainRejection:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindChainUnavailable:
		if errors.Is(err, chain.ErrNotConfigured) {
			return http.StatusInternalServerError
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return "Internal server error"
	}
	if e.Kind == apperr.KindChainRejection {
		return e.Error()
	}
	return e.Message
}

func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		zap.L().Error("Unhandled request error",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(statusFor(err), errorResponse{Error: errorBody{Message: messageFor(err), Code: string(kind)}})
}

func badRequest(c *gin.Context, format string, args ...any) {
	respondError(c, apperr.New(apperr.KindValidation, format, args...))
}

// outcomeStatus is 200 for a complete sequence and 207 for a partial one.
func outcomeStatus(status models.OutcomeStatus) int {
	if status == models.OutcomePartial {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		badRequest(c, "invalid %s: %s", name, c.Param(name))
		return 0, false
	}
	return value, true
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"routeswap/pkg/route"
	"routeswap/pkg/session"
	"routeswap/pkg/types"
)

// Response is the envelope of every API reply
type Response struct {
	Success bool                `json:"success"`
	Data    interface{}         `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
	Reason  types.FailureReason `json:"reason,omitempty"`
}

func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

func Error(c *gin.Context, status int, err string) {
	c.JSON(status, Response{
		Success: false,
		Error:   err,
	})
}

func BadRequest(c *gin.Context, err string) {
	Error(c, http.StatusBadRequest, err)
}

func NotFound(c *gin.Context, err string) {
	Error(c, http.StatusNotFound, err)
}

// Fail maps a pipeline error onto a status code. data, when set, is returned
// alongside the error so clients can re-render.
func Fail(c *gin.Context, err error, data interface{}) {
	resp := Response{Success: false, Error: err.Error(), Data: data}
	var execErr *types.ExecutionError
	if errors.As(err, &execErr) {
		resp.Reason = execErr.Reason
	}
	c.JSON(statusFor(err), resp)
}

func statusFor(err error) int {
	var (
		noRoute   *types.NoRouteError
		limited   *types.RateLimitedError
		malformed *types.MalformedQuoteError
		network   *types.NetworkError
		execErr   *types.ExecutionError
	)
	switch {
	case errors.Is(err, session.ErrInvalidIntent),
		errors.Is(err, session.ErrNoChain),
		errors.Is(err, session.ErrNoIntent),
		errors.Is(err, route.ErrInvalidSlippage):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrForeignRecipient):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotQuoted),
		errors.Is(err, session.ErrAttemptInProgress),
		types.IsStale(err):
		return http.StatusConflict
	case errors.As(err, &noRoute):
		return http.StatusUnprocessableEntity
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	case errors.As(err, &malformed), errors.As(err, &network):
		return http.StatusBadGateway
	case errors.As(err, &execErr):
		if execErr.Reason == types.ReasonSignerUnavailable {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrSignerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrInsufficientBalance), errors.Is(err, types.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"errors"
	"net/http"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/services"
	"github.com/gin-gonic/gin"
)

var errUnavailable = errors.New("feature not enabled")

// ErrorResponse is the body of every failed request. Kind is set for
// bridge failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var bridgeStatus = map[bridge.Kind]int{
	bridge.KindBridgeNotFound:     http.StatusServiceUnavailable,
	bridge.KindServerNotRunning:   http.StatusServiceUnavailable,
	bridge.KindNoDeviceConnected:  http.StatusConflict,
	bridge.KindDeviceOffline:      http.StatusConflict,
	bridge.KindDeviceUnauthorized: http.StatusConflict,
	bridge.KindPermissionDenied:   http.StatusForbidden,
	bridge.KindTimeout:            http.StatusGatewayTimeout,
	bridge.KindCommandFailed:      http.StatusBadGateway,
	bridge.KindParseError:         http.StatusBadGateway,
}

func statusOf(err error) int {
	var be *bridge.Error
	switch {
	case errors.As(err, &be):
		if code, ok := bridgeStatus[be.Kind]; ok {
			return code
		}
		return http.StatusBadGateway
	case errors.Is(err, services.ErrInvalidPackageName),
		errors.Is(err, services.ErrInvalidBackupName),
		errors.Is(err, services.ErrInvalidBackupURL),
		errors.Is(err, services.ErrEmptyBackup),
		errors.Is(err, bridge.ErrInvalidEndpoint):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrBackupNotFound),
		errors.Is(err, services.ErrNoCachedPackages):
		return http.StatusNotFound
	case errors.Is(err, services.ErrBackupExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrServiceStopped), errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	body := ErrorResponse{Error: err.Error()}
	var be *bridge.Error
	if errors.As(err, &be) {
		body.Kind = be.Kind.String()
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusOf(err), body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

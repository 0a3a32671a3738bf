package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"browser-automation/pkg/apperr"

	"go.uber.org/zap"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	code := apperr.CodeOf(err)
	status := statusOf(code)

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("code", code), zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.String("code", code), zap.Int("status", status), zap.Error(err))
	}

	info := &ErrorInfo{Code: code, Message: messageOf(err)}
	if meta := apperr.MetaOf(err); len(meta) > 0 {
		info.Details = meta
	}

	writeJSON(w, status, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now(),
	})
}

func statusOf(code string) int {
	switch code {
	case apperr.CodeSessionNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidArgument, apperr.CodeParse, apperr.CodeUnsupportedAction:
		return http.StatusBadRequest
	case apperr.CodeElementNotFound, apperr.CodeOptionNotFound, apperr.CodeActionFailed:
		return http.StatusUnprocessableEntity
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperr.CodeLaunchFailed:
		return http.StatusServiceUnavailable
	case apperr.CodeNavigationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageOf strips the op prefixes apperr adds at each layer.
func messageOf(err error) string {
	for {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) || appErr.Err == nil {
			return err.Error()
		}

		err = appErr.Err
	}
}

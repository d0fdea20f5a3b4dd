package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a JSON error body. The message is shown to the client as is.
func Error(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Error: message})
}

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	// Log the actual error, return a generic one.
	zap.L().Error(message, requestFields(r, zap.Error(err))...)
	Error(w, http.StatusInternalServerError, "internal server error")
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	zap.L().Warn("bad request", requestFields(r, zap.Error(err))...)
	Error(w, http.StatusBadRequest, clientMessage)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

func Unauthorized(w http.ResponseWriter, r *http.Request, reason error) {
	zap.L().Debug("unauthorized", requestFields(r, zap.Error(reason))...)
	w.Header().Set("WWW-Authenticate", `Bearer realm="dialer"`)
	Error(w, http.StatusUnauthorized, "unauthorized")
}

func LogError(r *http.Request, message string, err error) {
	zap.L().Error(message, requestFields(r, zap.Error(err))...)
}

func requestFields(r *http.Request, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	}
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return append(fields, extra...)
}

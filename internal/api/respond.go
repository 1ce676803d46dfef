package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"imgshift/internal/logging"
	"imgshift/internal/pipeline"
	"imgshift/internal/services"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, pipeline.ErrFileTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch pipeline.Classify(err) {
	case services.KindInvalidInput:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindTampered:
		return http.StatusUnauthorized
	case services.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// respondError logs err and writes its classified response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	code := pipeline.Classify(err)
	attrs := []logging.Attr{
		logging.String("path", r.URL.Path),
		logging.Int("status", status),
		logging.String("code", code),
		logging.Error(err),
		logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "request failed", "api_request_failed", attrs...)
	} else {
		s.logger.Info("request rejected", logging.Args(attrs...)...)
	}
	s.writeError(w, r, status, code, err.Error())
}

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"dinner-roulette/internal/auth"
	"dinner-roulette/internal/logging"
	"dinner-roulette/internal/party"
	"dinner-roulette/internal/validation"
)

const maxBodyBytes = 64 * 1024

// Response is the envelope of every JSON reply.
type Response struct {
	Status    string    `json:"status"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the machine-readable part of a failed reply.
type APIError struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	writeResponse(w, status, Response{Status: "success", Data: data, Timestamp: time.Now().UTC()})
}

func respondError(w http.ResponseWriter, status int, apiErr APIError) {
	writeResponse(w, status, Response{Status: "error", Error: &apiErr, Timestamp: time.Now().UTC()})
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondServiceError maps domain errors onto status codes.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, APIError{Code: "VALIDATION_ERROR", Message: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, party.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, APIError{Code: "VALIDATION_ERROR", Message: err.Error()})
	case errors.Is(err, auth.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, APIError{Code: "UNAUTHORIZED", Message: "invalid or expired token"})
	case errors.Is(err, party.ErrNotHost):
		respondError(w, http.StatusForbidden, APIError{Code: "FORBIDDEN", Message: err.Error()})
	case errors.Is(err, party.ErrPartyNotFound):
		respondError(w, http.StatusNotFound, APIError{Code: "PARTY_NOT_FOUND", Message: err.Error()})
	case errors.Is(err, party.ErrMemberNotFound):
		respondError(w, http.StatusNotFound, APIError{Code: "MEMBER_NOT_FOUND", Message: err.Error()})
	case errors.Is(err, party.ErrPartyClosed):
		respondError(w, http.StatusConflict, APIError{Code: "PARTY_CLOSED", Message: err.Error()})
	default:
		logging.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, APIError{Code: "INTERNAL_ERROR", Message: "internal error"})
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return &validation.Error{Fields: []validation.FieldError{{
			Field: "body", Tag: "max", Message: fmt.Sprintf("body must be at most %d bytes", maxBodyBytes),
		}}}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &validation.Error{Fields: []validation.FieldError{{
			Field: "body", Tag: "json", Message: "body is not valid JSON",
		}}}
	}
	return nil
}

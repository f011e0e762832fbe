// Package handlers exposes the scheduling operations over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = apperr.Validation("request body is required")

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err with the status its kind maps to. Infrastructure
// errors are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	status := apperr.HTTPStatus(err)
	var domain *apperr.Error
	if !errors.As(err, &domain) {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorBody{Error: "internal", Message: "internal server error"})
		return
	}
	writeJSON(w, status, errorBody{Error: string(domain.Kind), Message: domain.Message, Details: domain.Details})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != errEmptyBody {
		return err
	}
	return nil
}

func actorFrom(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "authentication required"})
	}
	return actor, ok
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func parseUUID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", field)
	}
	return id, nil
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := timewindow.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be a %s date", field, timewindow.DateLayout)
	}
	return d, nil
}

func parseClock(field, raw string) (time.Duration, error) {
	c, err := timewindow.ParseClock(strings.TrimSpace(raw))
	if err != nil {
		return 0, apperr.Validation("%s must be a %s time", field, timewindow.ClockLayout)
	}
	return c, nil
}

// optionalDate parses a query date, returning the zero time when absent.
func optionalDate(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return parseDate(key, raw)
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		verr *domain.ValidationError
		merr *domain.MissingParameterError
		uerr *domain.UpstreamUnavailableError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &merr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &uerr):
		logger.Warn("upstream unavailable", "source", uerr.Source, "error", uerr.Err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}

// queryLocation reads the required lat and lng query parameters.
func queryLocation(r *http.Request) (domain.Location, error) {
	lat, err := queryFloat(r, "lat", true, 0)
	if err != nil {
		return domain.Location{}, err
	}
	lng, err := queryFloat(r, "lng", true, 0)
	if err != nil {
		return domain.Location{}, err
	}
	loc := domain.Location{Lat: lat, Lng: lng}
	return loc, loc.Validate()
}

func queryFloat(r *http.Request, name string, required bool, def float64) (float64, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		if required {
			return 0, &domain.MissingParameterError{Param: name}
		}
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &domain.ValidationError{Field: name, Reason: "must be a number"}
	}
	return v, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &domain.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return v, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

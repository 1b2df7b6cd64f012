package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/rs/zerolog"
)

// WriteJSON writes data as a JSON response with status.
func WriteJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteError writes {"error": message} with status.
func WriteError(w http.ResponseWriter, log zerolog.Logger, status int, message string) {
	WriteJSON(w, log, status, map[string]string{"error": message})
}

// ErrorStatus maps analysis errors to HTTP status codes: invalid input is
// 400, data that cannot support the analysis is 422, cancellation is 499
// and everything else is 500.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrInvalidWeights):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoPriceData),
		errors.Is(err, domain.ErrInsufficientHistory),
		errors.Is(err, domain.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// MaxRequestBytes bounds request bodies decoded by DecodeJSON.
const MaxRequestBytes = 64 << 20

// DecodeJSON decodes the request body into v, rejecting unknown fields and
// bodies larger than MaxRequestBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

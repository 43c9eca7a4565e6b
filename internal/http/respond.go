package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

type successEnvelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type errorEnvelope struct {
	Success    bool     `json:"success"`
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retryAfter,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// writeJSON writes an arbitrary JSON payload with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeData wraps payload in the standard success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// writeError sends an error envelope whose machine code is derived from the
// error's place in the boundary taxonomy.
func writeError(w http.ResponseWriter, status int, err error, msg string) {
	writeJSON(w, status, errorEnvelope{
		Error:     msg,
		Code:      domain.ErrorCode(err),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// writeValidation reports one or more request validation failures.
func writeValidation(w http.ResponseWriter, details []string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{
		Error:     "request validation failed",
		Code:      domain.ErrorCode(domain.ErrValidation),
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// writeRateLimited sends the 429 envelope with retry hints in both the header
// and the body.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter / time.Second)
	if retryAfter%time.Second > 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, errorEnvelope{
		Error:      "rate limit exceeded",
		Code:       domain.ErrorCode(domain.ErrRateLimited),
		RetryAfter: seconds,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

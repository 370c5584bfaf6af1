package gateway

import (
	"encoding/json"
	stdliberrors "errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError maps a structured error onto its HTTP status and writes a
// machine-readable body. Plain errors become internal/500.
func respondError(w http.ResponseWriter, err error) {
	code := wharferrors.ErrCodeInternal
	message := "internal error"
	retryable := false

	var werr *wharferrors.Error
	if stdliberrors.As(err, &werr) {
		code = werr.Code
		retryable = werr.Retryable
		if werr.UserMessage != "" {
			message = werr.UserMessage
		} else if werr.Message != "" {
			message = werr.Message
		}
	} else if err != nil {
		message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		Status    int    `json:"status"`
		Retryable bool   `json:"retryable,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Error:     string(code),
		Message:   message,
		Status:    code.HTTPStatus(),
		Retryable: retryable,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if r == nil || r.Body == nil {
		return wharferrors.New(wharferrors.ErrCodeValidation, "request body required")
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if stdliberrors.Is(err, io.EOF) {
			return wharferrors.New(wharferrors.ErrCodeValidation, "request body required")
		}
		var maxErr *http.MaxBytesError
		if stdliberrors.As(err, &maxErr) {
			return wharferrors.Newf(wharferrors.ErrCodeValidation, "request body too large (max %d bytes)", maxBytes)
		}
		return wharferrors.Wrap(err, wharferrors.ErrCodeValidation, "decode request body")
	}
	return nil
}

// parseIntDefault parses an integer with a default fallback.
func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}

// rateLimiter provides simple per-key rate limiting.
type rateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if last, ok := r.last[key]; ok {
		if now.Sub(last) < r.interval {
			return false
		}
	}
	r.last[key] = now
	return true
}

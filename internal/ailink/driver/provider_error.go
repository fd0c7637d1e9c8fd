package driver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed response body lands in Message.
const maxErrorBody = 512

// ProviderError is a non-2xx provider response. Message is the trimmed
// response body; drivers never include request headers, so keys stay out.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

// NewProviderError builds a ProviderError from a failed response.
func NewProviderError(provider string, resp *http.Response, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	e := &ProviderError{Provider: provider, Message: msg}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.RetryAfter = retryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode == 0 {
		return e.Provider + " request failed: " + e.Message
	}
	return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// retryAfter accepts both delay-seconds and HTTP-date values.
func retryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

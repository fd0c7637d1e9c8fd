package ailink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/docrewrite/docrewrite/internal/ailink/driver"
	"github.com/docrewrite/docrewrite/internal/ailink/driver/openai"
)

// Failure codes reported by ProviderFailure.
const (
	CodeTimeout     = "AILINK_PROVIDER_TIMEOUT"
	CodeAuth        = "AILINK_PROVIDER_AUTH"
	CodeRateLimit   = "AILINK_PROVIDER_RATE_LIMIT"
	CodeUnavailable = "AILINK_PROVIDER_UNAVAILABLE"
	CodeBadRequest  = "AILINK_PROVIDER_BAD_REQUEST"
	CodeMalformed   = "AILINK_PROVIDER_MALFORMED"
	CodeNetwork     = "AILINK_PROVIDER_NETWORK"
	CodeCanceled    = "AILINK_PROVIDER_CANCELED"
	CodeError       = "AILINK_PROVIDER_ERROR"
)

// ProviderFailure is the classified form of a failed provider call.
type ProviderFailure struct {
	Code       string
	Message    string
	Details    string
	Credential string
	RetryAfter time.Duration
	Err        error
}

func (f *ProviderFailure) Error() string {
	if f == nil {
		return "provider failure"
	}
	if f.Details != "" {
		return fmt.Sprintf("%s: %s: %s", f.Code, f.Message, f.Details)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *ProviderFailure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// Retryable reports whether repeating the call could succeed.
func (f *ProviderFailure) Retryable() bool {
	if f == nil {
		return false
	}
	switch f.Code {
	case CodeTimeout, CodeRateLimit, CodeUnavailable, CodeNetwork:
		return true
	default:
		return false
	}
}

func mapProviderError(err error) *ProviderFailure {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderFailure{Code: CodeTimeout, Message: "provider request timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderFailure{Code: CodeCanceled, Message: "provider request canceled", Err: err}
	}
	if errors.Is(err, openai.ErrMalformedResponse) {
		return &ProviderFailure{Code: CodeMalformed, Message: "provider returned a malformed response", Details: err.Error(), Err: err}
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		details := strings.TrimSpace(perr.Message)
		switch {
		case status == 401 || status == 403:
			return &ProviderFailure{Code: CodeAuth, Message: "provider authentication failed", Details: details, Err: err}
		case status == 429:
			return &ProviderFailure{Code: CodeRateLimit, Message: "provider rate limited", Details: details, RetryAfter: perr.RetryAfter, Err: err}
		case status == 408:
			return &ProviderFailure{Code: CodeTimeout, Message: "provider request timed out", Details: details, Err: err}
		case status >= 500 && status <= 599:
			return &ProviderFailure{Code: CodeUnavailable, Message: "provider unavailable", Details: details, RetryAfter: perr.RetryAfter, Err: err}
		case status >= 400 && status <= 499:
			return &ProviderFailure{Code: CodeBadRequest, Message: "provider rejected request", Details: details, Err: err}
		default:
			return &ProviderFailure{Code: CodeError, Message: "provider request failed", Details: details, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ProviderFailure{Code: CodeNetwork, Message: "provider unreachable", Details: err.Error(), Err: err}
	}

	return &ProviderFailure{Code: CodeError, Message: "provider request failed", Details: err.Error(), Err: err}
}

// ErrorCode returns the failure code.
func (f *ProviderFailure) ErrorCode() string {
	if f == nil {
		return CodeError
	}
	return f.Code
}

// RetryAfterHint returns the provider's back-off hint, zero when absent.
func (f *ProviderFailure) RetryAfterHint() time.Duration {
	if f == nil {
		return 0
	}
	return f.RetryAfter
}

package ailink

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docrewrite/docrewrite/internal/ailink/driver"
	"github.com/docrewrite/docrewrite/internal/ailink/driver/openai"
)

func TestMapProviderErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		wantCode   string
		retryable  bool
	}{
		{"auth", 401, CodeAuth, false},
		{"forbidden", 403, CodeAuth, false},
		{"rate", 429, CodeRateLimit, true},
		{"bad", 400, CodeBadRequest, false},
		{"request timeout", 408, CodeTimeout, true},
		{"unavail", 503, CodeUnavailable, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := &driver.ProviderError{Provider: "openai", StatusCode: tc.statusCode, Message: "boom", RetryAfter: time.Second}
			mapped := mapProviderError(err)
			require.NotNil(t, mapped)
			require.Equal(t, tc.wantCode, mapped.Code)
			require.Equal(t, tc.retryable, mapped.Retryable())
			require.Equal(t, "boom", mapped.Details)
			require.ErrorIs(t, mapped, err)
		})
	}
}

func TestMapProviderErrorKeepsRetryAfterOnRateLimit(t *testing.T) {
	mapped := mapProviderError(&driver.ProviderError{StatusCode: 429, RetryAfter: 3 * time.Second})
	require.Equal(t, 3*time.Second, mapped.RetryAfter)
}

func TestMapProviderErrorContextAndDecode(t *testing.T) {
	timeout := mapProviderError(fmt.Errorf("request failed: %w", context.DeadlineExceeded))
	require.Equal(t, CodeTimeout, timeout.Code)
	require.True(t, timeout.Retryable())

	canceled := mapProviderError(context.Canceled)
	require.Equal(t, CodeCanceled, canceled.Code)
	require.False(t, canceled.Retryable())

	malformed := mapProviderError(fmt.Errorf("%w: missing message content", openai.ErrMalformedResponse))
	require.Equal(t, CodeMalformed, malformed.Code)
	require.False(t, malformed.Retryable())

	other := mapProviderError(errors.New("something else"))
	require.Equal(t, CodeError, other.Code)
	require.Nil(t, mapProviderError(nil))
}

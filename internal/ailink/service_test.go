package ailink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type capturedCall struct {
	Auth        string
	Temperature *float64
	System      string
	User        string
}

func newFakeProvider(t *testing.T, status int, reply string) (*httptest.Server, func() []capturedCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []capturedCall
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Temperature *float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		call := capturedCall{Auth: r.Header.Get("Authorization"), Temperature: payload.Temperature}
		for _, m := range payload.Messages {
			switch m.Role {
			case "system":
				call.System = m.Content
			case "user":
				call.User = m.Content
			}
		}
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		body, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": reply}, "finish_reason": "stop"}},
		})
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server, func() []capturedCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedCall(nil), calls...)
	}
}

func newTestService(t *testing.T, baseURL string, keys ...string) *Service {
	t.Helper()
	cfg := testConfig(keys...)
	p := cfg.Providers["openai"]
	p.BaseURL = baseURL
	cfg.Providers["openai"] = p
	cfg.DefaultTimeout = 2 * time.Second

	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	return svc
}

func TestServiceCompleteRendersPromptAndRotates(t *testing.T) {
	server, calls := newFakeProvider(t, http.StatusOK, "  polished  ")
	svc := newTestService(t, server.URL, "k1", "k2")

	temp := 0.3
	for i := 0; i < 3; i++ {
		out, err := svc.Complete(context.Background(), CompletionRequest{
			PromptSlug:  "rewrite",
			Variables:   map[string]string{"style": "scholar", "text": "hi"},
			Temperature: &temp,
		})
		require.NoError(t, err)
		require.Equal(t, "polished", out)
	}

	got := calls()
	require.Len(t, got, 3)
	require.Equal(t, "Bearer k1", got[0].Auth)
	require.Equal(t, "Bearer k2", got[1].Auth)
	require.Equal(t, "Bearer k1", got[2].Auth)
	require.Equal(t, "You are a writing assistant.", got[0].System)
	require.Equal(t, "Rewrite in scholar style:\n\nhi", got[0].User)
	require.NotNil(t, got[0].Temperature)
	require.InDelta(t, 0.3, *got[0].Temperature, 0.0001)
}

func TestServiceCompleteClassifiesFailures(t *testing.T) {
	server, _ := newFakeProvider(t, http.StatusServiceUnavailable, "")
	svc := newTestService(t, server.URL, "k1")

	_, err := svc.Complete(context.Background(), CompletionRequest{
		Variables: map[string]string{"style": "scholar", "text": "hi"},
	})
	require.Error(t, err)

	var failure *ProviderFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, CodeUnavailable, failure.Code)
	require.True(t, failure.Retryable())
	require.Equal(t, "key-0", failure.Credential)
}

func TestServiceCompleteRejectsEmptyContent(t *testing.T) {
	server, _ := newFakeProvider(t, http.StatusOK, "   ")
	svc := newTestService(t, server.URL, "k1")

	_, err := svc.Complete(context.Background(), CompletionRequest{
		PromptSlug: "cleanup",
		Variables:  map[string]string{"text": "hi", "original": "hi"},
	})
	var failure *ProviderFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, CodeMalformed, failure.Code)
}

func TestServiceProbeUsesGivenCredential(t *testing.T) {
	server, calls := newFakeProvider(t, http.StatusOK, "ok")
	svc := newTestService(t, server.URL, "k1", "k2")

	_, err := svc.Probe(context.Background(), Credential{Label: "second", APIKey: "k2"}, "ping")
	require.NoError(t, err)
	require.Equal(t, "Bearer k2", calls()[0].Auth)

	// Probing does not advance the rotation.
	_, err = svc.Complete(context.Background(), CompletionRequest{Variables: map[string]string{"style": "s", "text": "t"}})
	require.NoError(t, err)
	require.Equal(t, "Bearer k1", calls()[1].Auth)
}

func TestServiceBudgetHonoursContext(t *testing.T) {
	server, calls := newFakeProvider(t, http.StatusOK, "ok")
	svc := newTestService(t, server.URL, "k1")
	svc.Budget = NewBudget(1)
	require.True(t, svc.Budget.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Complete(ctx, CompletionRequest{Variables: map[string]string{"style": "s", "text": "t"}})
	var failure *ProviderFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, CodeTimeout, failure.Code)
	require.Empty(t, calls())
}

func TestNewBudget(t *testing.T) {
	require.Nil(t, NewBudget(0))
	b := NewBudget(900)
	require.NotNil(t, b)
	require.Equal(t, 15, b.Burst())
}

func TestNewServiceSurfacesExhaustedPool(t *testing.T) {
	_, err := NewService(testConfig(), nil)
	require.ErrorIs(t, err, ErrExhaustedPool)
}

package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/docrewrite/docrewrite/internal/ailink/driver"
	"github.com/docrewrite/docrewrite/internal/ailink/prompt"
	"github.com/docrewrite/docrewrite/internal/metrics"
)

const (
	defaultPromptSlug = "rewrite"
	defaultTimeout    = 60 * time.Second
	maxTimeout        = 5 * time.Minute
)

// CompletionRequest is the high-level request for one rewrite-style completion.
type CompletionRequest struct {
	PromptSlug  string
	Variables   map[string]string
	Temperature *float64
	Model       string
	Timeout     time.Duration
}

// Service coordinates prompt rendering, credential rotation, the outbound
// request budget, and driver execution.
type Service struct {
	Providers *Registry
	Registry  prompt.Registry
	// Budget throttles outbound calls; nil means unthrottled.
	Budget *rate.Limiter
	Logger *logging.Logger

	timeout time.Duration
}

// NewService builds the provider registry, prompt set, and outbound budget from cfg.
//
// An empty credential pool surfaces as ErrExhaustedPool.
func NewService(cfg Config, logger *logging.Logger) (*Service, error) {
	providers, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	prompts, err := prompt.RegistryWithOverrides(cfg.PromptsDir)
	if err != nil {
		return nil, err
	}

	return &Service{
		Providers: providers,
		Registry:  prompts,
		Budget:    NewBudget(cfg.RequestsPerMinute),
		Logger:    logger,
		timeout:   cfg.DefaultTimeout,
	}, nil
}

// NewBudget returns a token bucket admitting perMinute calls per minute with
// a burst of one second's worth. Non-positive values disable the budget.
func NewBudget(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// Complete renders the prompt, takes the next credential, and returns the
// completion text. Failures are returned as *ProviderFailure.
func (s *Service) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if s == nil || s.Providers == nil {
		return "", errors.New("ailink provider registry not configured")
	}
	if s.Registry == nil {
		return "", errors.New("ailink prompt registry not configured")
	}

	slug := strings.TrimSpace(req.PromptSlug)
	if slug == "" {
		slug = defaultPromptSlug
	}
	promptDef, err := s.Registry.Get(slug)
	if err != nil {
		return "", err
	}
	systemPrompt, userPrompt, err := promptDef.Render(req.Variables)
	if err != nil {
		return "", err
	}

	resolved, err := s.Providers.Resolve(req.Model)
	if err != nil {
		return "", err
	}
	return s.complete(ctx, resolved, promptDef.Config.Slug, systemPrompt, userPrompt, req)
}

// Probe sends the cleanup prompt through one specific credential.
func (s *Service) Probe(ctx context.Context, cred Credential, text string) (string, error) {
	if s == nil || s.Providers == nil || s.Registry == nil {
		return "", errors.New("ailink service not configured")
	}
	promptDef, err := s.Registry.Get("cleanup")
	if err != nil {
		return "", err
	}
	systemPrompt, userPrompt, err := promptDef.Render(map[string]string{"text": text, "original": text})
	if err != nil {
		return "", err
	}
	resolved, err := s.Providers.ResolveCredential(cred, "")
	if err != nil {
		return "", err
	}
	return s.complete(ctx, resolved, promptDef.Config.Slug, systemPrompt, userPrompt, CompletionRequest{})
}

func (s *Service) complete(ctx context.Context, resolved *ResolvedProvider, slug, systemPrompt, userPrompt string, req CompletionRequest) (string, error) {
	duration := s.timeout
	if duration <= 0 {
		duration = defaultTimeout
	}
	if req.Timeout > 0 {
		duration = req.Timeout
	}
	if duration > maxTimeout {
		duration = maxTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	if s.Budget != nil {
		if err := s.Budget.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = fmt.Errorf("outbound budget: %w: %v", context.DeadlineExceeded, err)
			}
			return "", s.fail(resolved, err)
		}
	}

	driverReq := &driver.Request{
		Model: resolved.Model,
		Messages: []driver.Message{
			{Role: "system", Text: systemPrompt},
			{Role: "user", Text: userPrompt},
		},
		Temperature: req.Temperature,
		PromptSlug:  slug,
		Metadata:    map[string]string{"credential": resolved.Credential.Label},
	}

	resp, err := resolved.Driver.Complete(ctx, driverReq)
	if err != nil {
		return "", s.fail(resolved, err)
	}

	if s.Logger != nil && resp.Usage != nil {
		s.Logger.Debug("Provider call completed",
			zap.String("prompt", slug),
			zap.String("credential", resolved.Credential.Label),
			zap.String("finish_reason", resp.FinishReason),
			zap.Int("total_tokens", resp.Usage.TotalTokens))
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &ProviderFailure{Code: CodeMalformed, Message: "empty response content", Credential: resolved.Credential.Label}
	}
	return text, nil
}

func (s *Service) fail(resolved *ResolvedProvider, err error) error {
	failure := mapProviderError(err)
	failure.Credential = resolved.Credential.Label
	metrics.RecordProviderFailure(failure.Code, failure.Credential)
	if s.Logger != nil {
		s.Logger.Debug("Provider call failed",
			zap.String("provider", resolved.ProviderID),
			zap.String("credential", resolved.Credential.Label),
			zap.String("code", failure.Code),
			zap.Error(err))
	}
	return failure
}

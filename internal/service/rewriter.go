package service

import (
	"context"

	"github.com/docrewrite/docrewrite/internal/ailink"
	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// Completer is the provider call the rewriter adapts.
type Completer interface {
	Complete(ctx context.Context, req ailink.CompletionRequest) (string, error)
}

// NewRewriter adapts a provider completion to rewrite.Rewriter. The cleanup
// style selects the cleanup prompt with the original text as reference;
// every other style renders the rewrite prompt.
func NewRewriter(c Completer) rewrite.Rewriter {
	return rewrite.RewriterFunc(func(ctx context.Context, req rewrite.Request) (string, error) {
		temperature := req.Temperature
		completion := ailink.CompletionRequest{
			PromptSlug:  "rewrite",
			Variables:   map[string]string{"style": req.Style, "text": req.Text},
			Temperature: &temperature,
		}
		if req.Style == rewrite.CleanupStyle {
			completion.PromptSlug = "cleanup"
			completion.Variables = map[string]string{"text": req.Text, "original": req.Reference}
		}
		return c.Complete(ctx, completion)
	})
}

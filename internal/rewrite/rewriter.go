// Package rewrite turns text segments into rewritten and cleaned text through
// a pluggable Rewriter transport.
package rewrite

import (
	"context"
	"errors"
	"fmt"
)

// Request is one rewrite call.
type Request struct {
	Text        string
	Style       string
	Temperature float64
	// Reference is context the transport may show the model without rewriting
	// it, such as the original text during cleanup.
	Reference string
}

// Rewriter performs a single rewrite call against a generative provider.
type Rewriter interface {
	Rewrite(ctx context.Context, req Request) (string, error)
}

// RewriterFunc adapts a function to Rewriter.
type RewriterFunc func(ctx context.Context, req Request) (string, error)

func (f RewriterFunc) Rewrite(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Failure is the typed error for a segment whose rewrite call failed.
type Failure struct {
	Index   int
	Segment string
	Cause   error
}

func (f *Failure) Error() string {
	if f == nil {
		return "rewrite failed"
	}
	return fmt.Sprintf("rewrite segment %d: %v", f.Index, f.Cause)
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}

// Retryable reports whether the underlying cause says a repeat could succeed.
func (f *Failure) Retryable() bool {
	if f == nil {
		return false
	}
	return IsRetryable(f.Cause)
}

// Code returns the classification code of the cause, or "REWRITE_FAILED".
func (f *Failure) Code() string {
	var coded interface{ ErrorCode() string }
	if f != nil && errors.As(f.Cause, &coded) {
		return coded.ErrorCode()
	}
	return "REWRITE_FAILED"
}

// IsRetryable reports whether err, or anything it wraps, declares itself retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

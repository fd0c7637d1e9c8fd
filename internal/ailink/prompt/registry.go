package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownPrompt is returned by Get for a slug no prompt declares.
var ErrUnknownPrompt = errors.New("unknown prompt")

// Registry resolves prompts by slug.
type Registry interface {
	Get(slug string) (*Prompt, error)
	List() []*Prompt
}

// Set is an immutable slug-indexed collection of prompts.
type Set struct {
	bySlug map[string]*Prompt
}

// NewSet indexes prompts. A blank or repeated slug is an error.
func NewSet(prompts ...*Prompt) (*Set, error) {
	s := &Set{bySlug: make(map[string]*Prompt, len(prompts))}
	for _, p := range prompts {
		if p == nil {
			continue
		}
		slug := strings.TrimSpace(p.Config.Slug)
		if slug == "" {
			return nil, fmt.Errorf("prompt %s has no slug", p.Source)
		}
		if prev, dup := s.bySlug[slug]; dup {
			return nil, fmt.Errorf("prompt slug %q defined by both %s and %s", slug, prev.Source, p.Source)
		}
		s.bySlug[slug] = p
	}
	return s, nil
}

// Overlay returns a copy of s in which each of prompts replaces the prompt
// with the same slug, or is added when the slug is new.
func (s *Set) Overlay(prompts []*Prompt) *Set {
	out := &Set{bySlug: make(map[string]*Prompt, len(s.bySlug)+len(prompts))}
	for slug, p := range s.bySlug {
		out.bySlug[slug] = p
	}
	for _, p := range prompts {
		if p != nil {
			out.bySlug[strings.TrimSpace(p.Config.Slug)] = p
		}
	}
	return out
}

func (s *Set) Get(slug string) (*Prompt, error) {
	if s == nil {
		return nil, errors.New("prompt registry not configured")
	}
	p, ok := s.bySlug[strings.TrimSpace(slug)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrompt, slug)
	}
	return p, nil
}

// List returns the prompts ordered by slug.
func (s *Set) List() []*Prompt {
	if s == nil {
		return nil
	}
	out := make([]*Prompt, 0, len(s.bySlug))
	for _, p := range s.bySlug {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Slug < out[j].Config.Slug })
	return out
}

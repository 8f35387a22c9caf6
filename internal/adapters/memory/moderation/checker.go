package moderation

import (
	"context"
	"strings"

	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/ports/out/moderation"
)

// Checker is a denylist-backed moderation.Checker for local runs and
// tests. Matching is done on the normalized prompt, so casing and
// spacing tricks do not slip past it.
type Checker struct {
	denied map[string]string // term -> category
}

func NewChecker(denied map[string]string) *Checker {
	terms := make(map[string]string, len(denied))
	for term, category := range denied {
		terms[domain.NormalizePrompt(term)] = category
	}
	return &Checker{denied: terms}
}

func (c *Checker) Check(ctx context.Context, content string) (moderation.Result, error) {
	_ = ctx
	normalized := domain.NormalizePrompt(content)

	var categories []string
	seen := make(map[string]bool)
	for term, category := range c.denied {
		if term != "" && strings.Contains(normalized, term) && !seen[category] {
			categories = append(categories, category)
			seen[category] = true
		}
	}
	if len(categories) == 0 {
		return moderation.Result{}, nil
	}
	return moderation.Result{Flagged: true, Categories: categories}, nil
}

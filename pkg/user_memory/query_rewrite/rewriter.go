// Package query_rewrite provides query rewriting functionality based on user profiles.
//
// A rewritten query replaces vague references ("my project", "that city")
// with concrete details from the user's profile, improving retrieval
// recall without changing the query's intent.
package query_rewrite

import (
	"context"
	"strings"
	"time"

	"github.com/ob-labs/powermem-go/pkg/llm"
)

// minQueryLen is the shortest query worth rewriting.
const minQueryLen = 3

// QueryRewriteResult reports one rewrite attempt.
type QueryRewriteResult struct {
	// OriginalQuery is the query as the caller passed it.
	OriginalQuery string

	// RewrittenQuery is the query to execute. It equals OriginalQuery
	// whenever the rewrite was skipped, failed, or changed nothing.
	RewrittenQuery string

	// IsRewritten is true when RewrittenQuery differs from the original.
	IsRewritten bool

	// ProfileUsed is the profile text the rewrite consumed, when any.
	ProfileUsed *string

	// Error carries the failure message when the LLM call failed; the
	// original query is still usable in that case.
	Error *string

	// Metadata carries timing information about the attempt.
	Metadata map[string]interface{}
}

// Config controls query rewriting.
type Config struct {
	// Enabled turns rewriting on.
	Enabled bool

	// CustomInstructions replaces the default rewrite requirements.
	CustomInstructions string

	// ModelOverride selects a different LLM model for rewriting.
	ModelOverride string
}

// QueryRewriter rewrites search queries through an LLM using profile
// context. Rewrites are best-effort: any failure falls back to the
// original query.
type QueryRewriter struct {
	llm    llm.Provider
	config *Config
}

// NewQueryRewriter builds a rewriter over the given provider.
func NewQueryRewriter(llm llm.Provider, config *Config) *QueryRewriter {
	return &QueryRewriter{
		llm:    llm,
		config: config,
	}
}

// Rewrite attempts to rewrite query using profileContent.
//
// The attempt is skipped (returning the original query unchanged) when
// the profile is empty or the query is shorter than three characters.
// LLM failures and empty responses also fall back to the original.
func (r *QueryRewriter) Rewrite(ctx context.Context, query string, profileContent string) *QueryRewriteResult {
	trimmedQuery := strings.TrimSpace(query)
	if strings.TrimSpace(profileContent) == "" || len(trimmedQuery) < minQueryLen {
		return skipped(query)
	}

	start := time.Now()
	prompt := buildQueryRewritePrompt(profileContent, query, r.config.CustomInstructions)

	response, err := r.llm.GenerateWithMessages(ctx, []llm.Message{
		{Role: "system", Content: "You are a helpful query rewriting assistant."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		msg := err.Error()
		result := skipped(query)
		result.Error = &msg
		result.Metadata["rewrite_time_seconds"] = time.Since(start).Seconds()
		return result
	}

	rewritten := strings.TrimSpace(response)
	isRewritten := rewritten != "" && rewritten != trimmedQuery
	if rewritten == "" {
		rewritten = query
	}

	return &QueryRewriteResult{
		OriginalQuery:  query,
		RewrittenQuery: rewritten,
		IsRewritten:    isRewritten,
		ProfileUsed:    &profileContent,
		Metadata: map[string]interface{}{
			"rewrite_time_seconds": time.Since(start).Seconds(),
		},
	}
}

// skipped builds a no-op result carrying the original query.
func skipped(query string) *QueryRewriteResult {
	return &QueryRewriteResult{
		OriginalQuery:  query,
		RewrittenQuery: query,
		Metadata:       make(map[string]interface{}),
	}
}

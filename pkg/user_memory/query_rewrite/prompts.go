// Package query_rewrite provides query rewriting functionality based on user profiles.
package query_rewrite

import (
	"fmt"
	"strings"
)

// defaultInstructions guide the rewrite when the caller supplies none.
const defaultInstructions = `Use the user information to fill in any vague or ambiguous parts of the query.
Preserve the original intent of the query.
If the query is already clear and unambiguous, leave it unchanged.`

// buildQueryRewritePrompt assembles the rewrite prompt from the profile,
// the instruction block and the query. customInstructions replaces the
// default requirement text when non-empty.
func buildQueryRewritePrompt(profileContent, query, customInstructions string) string {
	instructions := strings.TrimSpace(customInstructions)
	if instructions == "" {
		instructions = defaultInstructions
	}

	var b strings.Builder
	b.WriteString("# Task\n")
	b.WriteString("Rewrite the query by clarifying any ambiguous or underspecified references based on the provided user information, making the query more precise.\n\n")
	fmt.Fprintf(&b, "# User Information\n%s\n\n", profileContent)
	fmt.Fprintf(&b, "# Requirements\n%s\n\n", instructions)
	b.WriteString("# Output\nOutput only the rewritten query—do not add any explanations.\n\n")
	fmt.Fprintf(&b, "# Query\n%s", query)
	return b.String()
}

package migrate

import (
	"fmt"
	"github.com/gobwas/glob"
	"strings"
)

// ExclusionPolicy decides whether a resource format is excluded from
// migration. The policy is built once per run from a whitespace-separated
// list of format tokens and is immutable afterwards.
//
// Tokens are lowercased before compilation. A plain token such as "zip"
// matches exactly that format; tokens may also carry glob metacharacters
// (e.g. "shp*") to exclude a family of formats.
type ExclusionPolicy struct {
	tokens   []string
	matchers []glob.Glob
}

// NewExclusionPolicy parses the configured format list into a policy.
//
// Parameters:
//   - excludedFormats: Whitespace-separated format tokens. An empty or
//     blank string yields a policy that excludes nothing.
//
// Returns:
//   - The compiled policy, or an error if a token is not a valid pattern.
func NewExclusionPolicy(excludedFormats string) (*ExclusionPolicy, error) {
	tokens := strings.Fields(strings.ToLower(excludedFormats))
	matchers := make([]glob.Glob, 0, len(tokens))
	for _, token := range tokens {
		m, err := glob.Compile(token)
		if err != nil {
			return nil, fmt.Errorf("failed to compile excluded format %q: %w", token, err)
		}
		matchers = append(matchers, m)
	}

	return &ExclusionPolicy{tokens: tokens, matchers: matchers}, nil
}

// IsExcluded reports whether the given format is excluded. Comparison is
// case-insensitive.
func (p *ExclusionPolicy) IsExcluded(format string) bool {
	format = strings.ToLower(format)
	for _, m := range p.matchers {
		if m.Match(format) {
			return true
		}
	}
	return false
}

// Tokens returns the lowercased tokens the policy was built from.
func (p *ExclusionPolicy) Tokens() []string {
	return p.tokens
}

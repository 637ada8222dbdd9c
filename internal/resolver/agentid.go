// Package resolver turns user-supplied agent references into stored agent ids.
package resolver

import (
	"context"
	"fmt"
	"strings"
)

// MinPrefixLength is the minimum length of an id prefix worth scanning for.
// Shorter references must match an id exactly.
const MinPrefixLength = 6

// Lister lists stored agent ids.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// ResolveAgentID resolves ref to a stored agent id.
// An exact match always wins; otherwise ref must be a prefix of exactly one id.
//
// Generated sub-agent ids are long ("agent-0192f3c4-..."), so operators can
// refer to them by any unique prefix.
func ResolveAgentID(ctx context.Context, l Lister, ref string) (string, error) {
	ids, err := l.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list agents: %w", err)
	}

	var matches []string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if len(ref) >= MinPrefixLength && strings.HasPrefix(id, ref) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Ref: ref}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Ref: ref, Matches: matches}
	}
}

// NotFoundError indicates no agent matched the reference.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no agents found matching '%s'", e.Ref)
}

// AmbiguousError indicates several agents matched the reference.
type AmbiguousError struct {
	Ref     string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous agent id '%s' matches %d agents", e.Ref, len(e.Matches))
}

// FormatAmbiguousError lists the matching ids (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	msg := fmt.Sprintf("'%s' matches %d agents:\n", err.Ref, len(err.Matches))

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}

	for i := 0; i < displayCount; i++ {
		msg += fmt.Sprintf("  %s\n", err.Matches[i])
	}

	if len(err.Matches) > 10 {
		msg += fmt.Sprintf("  ...and %d more\n", len(err.Matches)-10)
	}

	return msg
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}

// Package resolver turns the short record id prefixes shown by
// `forumtap records` back into full record ids.
package resolver

import (
	"context"
	"fmt"
	"strings"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// RecordLister lists every record id of an instance. *mirror.Client
// implements it.
type RecordLister interface {
	ListRecordIDs(ctx context.Context, sinceMs int64) ([]string, error)
}

// ResolveRecordID resolves a short ID prefix to a full record id.
// A full UUID is returned as-is without checking that it exists.
// Returns *NotFoundError or *AmbiguousError unless exactly one id matches.
func ResolveRecordID(ctx context.Context, lister RecordLister, shortID string) (string, error) {
	shortID = strings.ToLower(shortID)
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	ids, err := lister.ListRecordIDs(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to search for record: %w", err)
	}

	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, shortID) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no records matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no records found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple records matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d records", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError lists the matching ids (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous short ID '%s' matches %d records:\n", err.ShortID, len(err.Matches))

	shown := err.Matches
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, id := range shown {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the record.")
	return b.String()
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

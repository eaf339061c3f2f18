// Package filter selects records for the records and watch commands.
package filter

import (
	"path/filepath"

	"github.com/dyluth/forumtap/pkg/mirror"
)

// Criteria defines filtering criteria for records.
// All filters are ANDed together - a record must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64       // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64       // Unix timestamp in milliseconds, 0 = no filter
	Kind             mirror.Kind // Exact kind, empty = no filter
	BoardID          int64       // Board of an article or comment, 0 = no filter
	TitleGlob        string      // Glob pattern for Record.Title, empty = no filter
}

// Matches returns true if the record matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(r *mirror.Record) bool {
	if c.SinceTimestampMs > 0 && r.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && r.CreatedAtMs > c.UntilTimestampMs {
		return false
	}

	if c.Kind != "" && r.Kind != c.Kind {
		return false
	}

	// Notes belong to no board
	if c.BoardID != 0 {
		switch {
		case r.Article != nil && r.Article.BoardID == c.BoardID:
		case r.Comment != nil && r.Comment.BoardID == c.BoardID:
		default:
			return false
		}
	}

	if c.TitleGlob != "" {
		matched, err := filepath.Match(c.TitleGlob, r.Title())
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.Kind != "" ||
		c.BoardID != 0 ||
		c.TitleGlob != ""
}

// Validate reports a malformed kind or title pattern.
func (c *Criteria) Validate() error {
	if c.Kind != "" {
		if err := c.Kind.Validate(); err != nil {
			return err
		}
	}
	if c.TitleGlob != "" {
		if _, err := filepath.Match(c.TitleGlob, ""); err != nil {
			return err
		}
	}
	return nil
}

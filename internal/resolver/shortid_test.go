package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister struct {
	ids []string
	err error
}

func (s staticLister) ListRecordIDs(context.Context, int64) ([]string, error) {
	return s.ids, s.err
}

func TestResolveRecordID(t *testing.T) {
	ctx := context.Background()
	lister := staticLister{ids: []string{
		"abc12345-0000-4000-8000-000000000001",
		"abc12399-0000-4000-8000-000000000002",
		"def45678-0000-4000-8000-000000000003",
	}}

	t.Run("full uuid passes through", func(t *testing.T) {
		id, err := ResolveRecordID(ctx, staticLister{}, "ABC12345-0000-4000-8000-000000000001")
		require.NoError(t, err)
		assert.Equal(t, "abc12345-0000-4000-8000-000000000001", id)
	})

	t.Run("unique prefix", func(t *testing.T) {
		id, err := ResolveRecordID(ctx, lister, "def456")
		require.NoError(t, err)
		assert.Equal(t, "def45678-0000-4000-8000-000000000003", id)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveRecordID(ctx, lister, "abc")
		assert.ErrorContains(t, err, "at least 6 characters")
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveRecordID(ctx, lister, "ffffff")
		require.Error(t, err)
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := ResolveRecordID(ctx, lister, "abc123")
		require.Error(t, err)
		require.True(t, IsAmbiguousError(err))
		assert.Len(t, err.(*AmbiguousError).Matches, 2)
	})

	t.Run("lister failure", func(t *testing.T) {
		_, err := ResolveRecordID(ctx, staticLister{err: errors.New("down")}, "abc123")
		assert.ErrorContains(t, err, "failed to search for record")
		assert.False(t, IsNotFoundError(err))
	})
}

func TestFormatAmbiguousError(t *testing.T) {
	t.Run("few matches", func(t *testing.T) {
		msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abc123", Matches: []string{"a", "b"}})
		assert.Contains(t, msg, "matches 2 records")
		assert.Contains(t, msg, "  a\n  b\n")
		assert.NotContains(t, msg, "more")
	})

	t.Run("truncates after ten", func(t *testing.T) {
		matches := make([]string, 13)
		for i := range matches {
			matches[i] = fmt.Sprintf("id-%02d", i)
		}
		msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abc123", Matches: matches})
		assert.Contains(t, msg, "id-09")
		assert.NotContains(t, msg, "id-10")
		assert.Contains(t, msg, "...and 3 more")
	})
}

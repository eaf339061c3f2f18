package sink

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteSink {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "forumtap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()

	t.Run("stores articles with attachments", func(t *testing.T) {
		s := openTestSQLite(t)
		r := testRecord(501, []byte{0x89, 'P', 'N', 'G'}, []byte("second"))
		require.NoError(t, s.Emit(ctx, r))

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, mirror.KindArticle, got.Kind)
		assert.Equal(t, int64(501), got.Article.ID)
		require.Len(t, got.Article.Attachments, 2)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, got.Article.Attachments[0].Data)
		assert.Equal(t, []byte("second"), got.Article.Attachments[1].Data)
		assert.Equal(t, 2, got.Article.Attachments[1].Slot)
	})

	t.Run("same article id replaces the earlier record", func(t *testing.T) {
		s := openTestSQLite(t)
		first := testRecord(501, []byte("old"))
		second := testRecord(501)
		require.NoError(t, s.Emit(ctx, first))
		require.NoError(t, s.Emit(ctx, second))

		id, err := s.RecordIDForArticle(ctx, 501)
		require.NoError(t, err)
		assert.Equal(t, second.ID, id)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Get(ctx, first.ID)
		assert.True(t, errors.Is(err, sql.ErrNoRows))
	})

	t.Run("sentinel ids always create", func(t *testing.T) {
		s := openTestSQLite(t)
		require.NoError(t, s.Emit(ctx, testRecord(mirror.SentinelID)))
		require.NoError(t, s.Emit(ctx, testRecord(mirror.SentinelID)))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("redelivered record is stored once", func(t *testing.T) {
		s := openTestSQLite(t)
		r := testRecord(mirror.SentinelID, []byte("a"))
		require.NoError(t, s.Emit(ctx, r))
		require.NoError(t, s.Emit(ctx, r))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, got.Article.Attachments, 1)
	})

	t.Run("comments and notes", func(t *testing.T) {
		s := openTestSQLite(t)
		now := time.Now()
		c := mirror.NewCommentRecord(&mirror.Comment{ArticleID: 501, BoardID: 1765, Body: "hi%20there"}, now)
		n := mirror.NewNoteRecord(&mirror.Note{Recipient: "bob", Body: "psst"}, now)
		require.NoError(t, s.Emit(ctx, c))
		require.NoError(t, s.Emit(ctx, n))

		got, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "hi there", got.Comment.DisplayBody())

		got, err = s.Get(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", got.Note.Recipient)
	})

	t.Run("empty attachment data", func(t *testing.T) {
		s := openTestSQLite(t)
		r := testRecord(7)
		r.Article.Attachments = []mirror.Attachment{{Slot: 1}}
		require.NoError(t, s.Emit(ctx, r))

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, got.Article.Attachments, 1)
		assert.Empty(t, got.Article.Attachments[0].Data)
	})

	t.Run("invalid records are storage errors", func(t *testing.T) {
		s := openTestSQLite(t)
		err := s.Emit(ctx, &mirror.Record{ID: "not-a-uuid", Kind: mirror.KindNote})
		require.Error(t, err)
		var se *StorageError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "sqlite", se.Sink)
	})
}

package watch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *mirror.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := mirror.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func articleRecord(id int64) *mirror.Record {
	return mirror.NewArticleRecord(&mirror.Article{
		ID:      id,
		BoardID: 7,
		Title:   "polled",
		Attachments: []mirror.Attachment{
			{Slot: 1, Data: []byte("img"), Size: 3},
		},
	}, time.Now())
}

func TestPollForArticle(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	t.Run("returns record when found immediately", func(t *testing.T) {
		saved := articleRecord(11)
		_, err := client.SaveRecord(ctx, saved)
		require.NoError(t, err)

		found, err := PollForArticle(ctx, client, 11, 2*time.Second)
		require.NoError(t, err)
		require.Equal(t, saved.ID, found.ID)
		require.Equal(t, []byte("img"), found.Article.Attachments[0].Data)
	})

	t.Run("returns record when found after delay", func(t *testing.T) {
		saved := articleRecord(12)
		go func() {
			time.Sleep(500 * time.Millisecond)
			client.SaveRecord(context.Background(), saved)
		}()

		start := time.Now()
		found, err := PollForArticle(ctx, client, 12, 2*time.Second)
		elapsed := time.Since(start)

		require.NoError(t, err)
		require.Equal(t, saved.ID, found.ID)
		require.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
		require.Less(t, elapsed, 2*time.Second)
	})

	t.Run("returns latest record after an edit", func(t *testing.T) {
		_, err := client.SaveRecord(ctx, articleRecord(13))
		require.NoError(t, err)
		edit := articleRecord(13)
		edit.Article.Edited = true
		_, err = client.SaveRecord(ctx, edit)
		require.NoError(t, err)

		found, err := PollForArticle(ctx, client, 13, time.Second)
		require.NoError(t, err)
		require.Equal(t, edit.ID, found.ID)
		require.True(t, found.Article.Edited)
	})

	t.Run("returns error on timeout", func(t *testing.T) {
		start := time.Now()
		_, err := PollForArticle(ctx, client, 999, 500*time.Millisecond)
		elapsed := time.Since(start)

		require.Error(t, err)
		require.Contains(t, err.Error(), "timeout waiting for article 999")
		require.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
		require.Less(t, elapsed, time.Second)
	})

	t.Run("returns error when context cancelled", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		_, err := PollForArticle(cancelCtx, client, 998, 5*time.Second)
		require.ErrorIs(t, err, context.Canceled)
	})
}

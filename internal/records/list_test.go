package records

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/forumtap/internal/filter"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *mirror.Client {
	mr := miniredis.RunT(t)

	client, err := mirror.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func saveArticle(t *testing.T, client *mirror.Client, id, board int64, title string, at time.Time) *mirror.Record {
	r := mirror.NewArticleRecord(&mirror.Article{
		ID:                  id,
		BoardID:             board,
		Title:               title,
		Body:                "body",
		DeclaredAttachments: 1,
		Attachments: []mirror.Attachment{
			{Slot: 1, Data: []byte("payload"), Size: 7},
		},
	}, at)
	_, err := client.SaveRecord(context.Background(), r)
	require.NoError(t, err)
	return r
}

func saveComment(t *testing.T, client *mirror.Client, article, board int64, body string, at time.Time) *mirror.Record {
	r := mirror.NewCommentRecord(&mirror.Comment{ArticleID: article, BoardID: board, Body: body}, at)
	_, err := client.SaveRecord(context.Background(), r)
	require.NoError(t, err)
	return r
}

func TestListRecords_Empty(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	t.Run("default format", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, client, OutputFormatDefault, nil, &buf))
		assert.Contains(t, buf.String(), "No records found for instance 'test-instance'")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, client, OutputFormatJSON, nil, &buf))
		assert.Equal(t, "[]\n", buf.String())
	})

	t.Run("jsonl format", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, client, OutputFormatJSONL, nil, &buf))
		assert.Empty(t, buf.String())
	})
}

func TestListRecords_Formats(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	base := time.Now().Add(-time.Hour)

	first := saveArticle(t, client, 101, 7, "First article", base)
	second := saveComment(t, client, 101, 7, "nice%20post", base.Add(time.Minute))

	t.Run("default format", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, client, OutputFormatDefault, nil, &buf))

		out := buf.String()
		assert.Contains(t, out, "Records for instance 'test-instance'")
		assert.Contains(t, out, first.ID[:8])
		assert.Contains(t, out, "First article")
		assert.Contains(t, out, "nice post")
		assert.Contains(t, out, "2 records found")
		assert.Less(t, strings.Index(out, first.ID[:8]), strings.Index(out, second.ID[:8]), "oldest first")
	})

	t.Run("jsonl strips attachment data", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, client, OutputFormatJSONL, nil, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)

		var got mirror.Record
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
		assert.Equal(t, first.ID, got.ID)
		require.Len(t, got.Article.Attachments, 1)
		assert.Nil(t, got.Article.Attachments[0].Data)
		assert.Equal(t, 7, got.Article.Attachments[0].Size)
	})

	t.Run("json array", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, client, OutputFormatJSON, nil, &buf))

		var got []mirror.Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, mirror.KindComment, got[1].Kind)
	})

	t.Run("unknown format", func(t *testing.T) {
		err := ListRecords(ctx, client, OutputFormat("xml"), nil, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestListRecords_Filters(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	old := saveArticle(t, client, 1, 7, "old", base)
	mid := saveComment(t, client, 1, 8, "mid", base.Add(time.Hour))
	recent := saveArticle(t, client, 2, 8, "recent", base.Add(2*time.Hour))

	list := func(t *testing.T, f *filter.Criteria) []string {
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, client, OutputFormatJSON, f, &buf))
		var got []mirror.Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		ids := make([]string, len(got))
		for i, r := range got {
			ids[i] = r.ID
		}
		return ids
	}

	t.Run("since", func(t *testing.T) {
		ids := list(t, &filter.Criteria{SinceTimestampMs: base.Add(30 * time.Minute).UnixMilli()})
		assert.Equal(t, []string{mid.ID, recent.ID}, ids)
	})

	t.Run("until", func(t *testing.T) {
		ids := list(t, &filter.Criteria{UntilTimestampMs: base.Add(time.Hour).UnixMilli()})
		assert.Equal(t, []string{old.ID, mid.ID}, ids)
	})

	t.Run("kind", func(t *testing.T) {
		ids := list(t, &filter.Criteria{Kind: mirror.KindArticle})
		assert.Equal(t, []string{old.ID, recent.ID}, ids)
	})

	t.Run("board", func(t *testing.T) {
		ids := list(t, &filter.Criteria{BoardID: 8})
		assert.Equal(t, []string{mid.ID, recent.ID}, ids)
	})

	t.Run("combined", func(t *testing.T) {
		ids := list(t, &filter.Criteria{BoardID: 8, Kind: mirror.KindArticle})
		assert.Equal(t, []string{recent.ID}, ids)
	})
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{
		"":        OutputFormatDefault,
		"default": OutputFormatDefault,
		"jsonl":   OutputFormatJSONL,
		"json":    OutputFormatJSON,
	} {
		got, err := ParseOutputFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseOutputFormat("yaml")
	assert.Error(t, err)
}

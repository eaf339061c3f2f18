package records

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dyluth/forumtap/pkg/mirror"
)

// FormatTable writes records as a table: ID, KIND, ARTICLE, BOARD, FILES, AGE
// and TITLE (first line, truncated). Returns the number of rows written.
func FormatTable(w io.Writer, records []*mirror.Record, instanceName string, now time.Time) int {
	if len(records) == 0 {
		fmt.Fprintf(w, "No records found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Records for instance '%s':\n\n", instanceName)

	const row = "%-10s %-8s %-9s %-7s %-5s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "KIND", "ARTICLE", "BOARD", "FILES", "AGE", "TITLE")
	fmt.Fprintf(w, row, "----------", "--------", "---------", "-------", "-----", "--------", "----------------------------------------")

	for _, r := range records {
		fmt.Fprintf(w, row,
			formatID(r.ID),
			formatKind(r),
			formatArticle(r),
			formatBoard(r),
			formatFiles(r),
			formatAge(r.CreatedAtMs, now),
			formatTitle(r.Title()),
		)
	}

	noun := "record"
	if len(records) != 1 {
		noun = "records"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(records), noun)

	return len(records)
}

// FormatJSONL writes one compact JSON object per record.
func FormatJSONL(w io.Writer, records []*mirror.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatJSON writes records as one indented JSON array; empty is "[]".
func FormatJSON(w io.Writer, records []*mirror.Record) error {
	if records == nil {
		records = []*mirror.Record{}
	}
	return writeIndented(w, records)
}

// FormatSingleJSON writes a single record as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, r *mirror.Record) error {
	return writeIndented(w, r)
}

func writeIndented(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatKind shows "edit" for edited articles.
func formatKind(r *mirror.Record) string {
	if r.Article != nil && r.Article.Edited {
		return "edit"
	}
	return string(r.Kind)
}

// formatArticle shows the article a record belongs to: the article's own id,
// "new" while the server id is unknown, or the commented article.
func formatArticle(r *mirror.Record) string {
	switch {
	case r.Article != nil && !r.Article.HasID():
		return "new"
	case r.Article != nil:
		return strconv.FormatInt(r.Article.ID, 10)
	case r.Comment != nil && r.Comment.ArticleID > 0:
		return strconv.FormatInt(r.Comment.ArticleID, 10)
	default:
		return "-"
	}
}

func formatBoard(r *mirror.Record) string {
	var board int64
	switch {
	case r.Article != nil:
		board = r.Article.BoardID
	case r.Comment != nil:
		board = r.Comment.BoardID
	}
	if board == 0 {
		return "-"
	}
	return strconv.FormatInt(board, 10)
}

func formatFiles(r *mirror.Record) string {
	if r.Article == nil || len(r.Article.Attachments) == 0 {
		return "-"
	}
	return strconv.Itoa(len(r.Article.Attachments))
}

// formatTitle returns the first non-empty line, at most 40 characters.
func formatTitle(title string) string {
	var first string
	for _, line := range strings.Split(title, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			first = trimmed
			break
		}
	}
	if first == "" {
		return "-"
	}

	if utf8.RuneCountInString(first) > 40 {
		runes := []rune(first)
		return string(runes[:37]) + "..."
	}
	return first
}

// formatAge shows how long before now a record was created, e.g. "5m ago".
func formatAge(createdAtMs int64, now time.Time) string {
	if createdAtMs == 0 {
		return "-"
	}

	diff := now.Sub(time.UnixMilli(createdAtMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

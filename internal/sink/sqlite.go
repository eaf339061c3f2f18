package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/forumtap/pkg/mirror"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	article_id INTEGER,
	title TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_article_id ON records(article_id);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at_ms);
CREATE TABLE IF NOT EXISTS attachments (
	record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	slot INTEGER NOT NULL,
	size INTEGER NOT NULL,
	received_at_ms INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (record_id, position)
);`

// SQLiteSink is the local structured store: one file on the user's machine.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and makes sure
// the schema exists.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDriver, "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string {
	return "sqlite"
}

// Emit implements Sink.
func (s *SQLiteSink) Emit(ctx context.Context, r *mirror.Record) error {
	return storageError(s.Name(), r, s.save(ctx, r))
}

func (s *SQLiteSink) save(ctx context.Context, r *mirror.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	payload, err := json.Marshal(r.Summary())
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Queue redeliveries carry the same record id.
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("replace record %s: %w", r.ID, err)
	}

	var articleID sql.NullInt64
	if r.Article != nil && r.Article.HasID() {
		articleID = sql.NullInt64{Int64: r.Article.ID, Valid: true}
		// Attachments go with the old row through ON DELETE CASCADE.
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE article_id = ?`, r.Article.ID); err != nil {
			return fmt.Errorf("replace article %d: %w", r.Article.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, kind, created_at_ms, article_id, title, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.Kind), r.CreatedAtMs, articleID, r.Title(), string(payload))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	if r.Article != nil {
		for i, att := range r.Article.Attachments {
			data := att.Data
			if data == nil {
				data = []byte{}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO attachments (record_id, position, slot, size, received_at_ms, data)
				VALUES (?, ?, ?, ?, ?, ?)
			`, r.ID, i, att.Slot, len(data), att.ReceivedAtMs, data)
			if err != nil {
				return fmt.Errorf("insert attachment %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns a stored record with its attachment bytes.
// Returns an error wrapping sql.ErrNoRows when it does not exist.
func (s *SQLiteSink) Get(ctx context.Context, id string) (*mirror.Record, error) {
	var payload string
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM records WHERE id = ?`, id)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("select record: %w", err)
	}

	var r mirror.Record
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	if r.Article != nil {
		rows, err := s.db.QueryContext(ctx, `SELECT position, data FROM attachments WHERE record_id = ? ORDER BY position`, id)
		if err != nil {
			return nil, fmt.Errorf("select attachments: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				position int
				data     []byte
			)
			if err := rows.Scan(&position, &data); err != nil {
				return nil, fmt.Errorf("scan attachment: %w", err)
			}
			if position >= 0 && position < len(r.Article.Attachments) {
				r.Article.Attachments[position].Data = data
			}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate attachments: %w", err)
		}
	}
	return &r, nil
}

// RecordIDForArticle returns the record stored for a server article id.
func (s *SQLiteSink) RecordIDForArticle(ctx context.Context, articleID int64) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM records WHERE article_id = ?`, articleID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("lookup article %d: %w", articleID, err)
	}
	return id, nil
}

// Count returns the number of stored records.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

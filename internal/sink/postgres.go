package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink stores records in a shared Postgres database.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pgx connection pool using the provided DSN.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsurePostgresSchema creates the record tables if needed.
func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS forum_records (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	article_id BIGINT UNIQUE,
	board_id BIGINT,
	title TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forum_records_created_at ON forum_records(created_at);
CREATE TABLE IF NOT EXISTS forum_attachments (
	record_id TEXT NOT NULL REFERENCES forum_records(id) ON DELETE CASCADE,
	position INT NOT NULL,
	slot INT NOT NULL,
	size INT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	data BYTEA NOT NULL,
	PRIMARY KEY (record_id, position)
);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// NewPostgresSink returns a sink writing through pool. The sink owns the pool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// OpenPostgres connects, ensures the schema and returns a ready sink.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := ConnectPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := EnsurePostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresSink(pool), nil
}

// Name implements Sink.
func (s *PostgresSink) Name() string {
	return "postgres"
}

// Emit implements Sink.
func (s *PostgresSink) Emit(ctx context.Context, r *mirror.Record) error {
	return storageError(s.Name(), r, s.save(ctx, r))
}

func (s *PostgresSink) save(ctx context.Context, r *mirror.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	payload, err := json.Marshal(r.Summary())
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	var articleID, boardID *int64
	switch {
	case r.Article != nil:
		boardID = &r.Article.BoardID
		if r.Article.HasID() {
			articleID = &r.Article.ID
		}
	case r.Comment != nil:
		boardID = &r.Comment.BoardID
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Queue redeliveries carry the same record id.
		if _, err := tx.Exec(ctx, `DELETE FROM forum_records WHERE id=$1`, r.ID); err != nil {
			return fmt.Errorf("replace record %s: %w", r.ID, err)
		}
		if articleID != nil {
			if _, err := tx.Exec(ctx, `DELETE FROM forum_records WHERE article_id=$1`, *articleID); err != nil {
				return fmt.Errorf("replace article %d: %w", *articleID, err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO forum_records (id, kind, created_at, article_id, board_id, title, payload)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, r.ID, string(r.Kind), time.UnixMilli(r.CreatedAtMs).UTC(), articleID, boardID, r.Title(), payload)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}

		if r.Article == nil {
			return nil
		}

		batch := &pgx.Batch{}
		for i, att := range r.Article.Attachments {
			data := att.Data
			if data == nil {
				data = []byte{}
			}
			batch.Queue(`
				INSERT INTO forum_attachments (record_id, position, slot, size, received_at, data)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, r.ID, i, att.Slot, len(data), time.UnixMilli(att.ReceivedAtMs).UTC(), data)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert attachments: %w", err)
		}
		return nil
	})
}

// Get returns a stored record with its attachment bytes.
func (s *PostgresSink) Get(ctx context.Context, id string) (*mirror.Record, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM forum_records WHERE id=$1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("record not found: %w", err)
		}
		return nil, fmt.Errorf("select record: %w", err)
	}

	var r mirror.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	if r.Article != nil {
		rows, err := s.pool.Query(ctx, `SELECT position, data FROM forum_attachments WHERE record_id=$1 ORDER BY position`, id)
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

// Close implements Sink.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

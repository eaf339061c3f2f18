// Package sink delivers finished records to the configured stores: Redis,
// a local SQLite file, Postgres, S3-compatible object storage and an asynq
// queue. Every failure is reported as a *StorageError.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/forumtap/pkg/mirror"
)

// Sink stores finished records. Articles with a known server id replace any
// earlier record for that id; sentinel-id articles always create.
type Sink interface {
	Name() string
	Emit(ctx context.Context, r *mirror.Record) error
	Close() error
}

// StorageError is a sink failure for one record.
type StorageError struct {
	Sink     string
	RecordID string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s sink: record %s: %v", e.Sink, e.RecordID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageError wraps err for sink s, or returns nil.
func storageError(sinkName string, r *mirror.Record, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Sink: sinkName, RecordID: r.ID, Err: err}
}

// Fanout emits every record to each sink in order. A failing sink does not
// stop the others; all failures are joined.
type Fanout struct {
	sinks []Sink
}

// NewFanout returns a Fanout over sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Name implements Sink.
func (f *Fanout) Name() string {
	return "fanout"
}

// Sinks returns the wrapped sinks.
func (f *Fanout) Sinks() []Sink {
	return f.sinks
}

// Emit implements Sink.
func (f *Fanout) Emit(ctx context.Context, r *mirror.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, r); err != nil {
			var se *StorageError
			if !errors.As(err, &se) {
				err = storageError(s.Name(), r, err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins the failures.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// StorageErrors unpacks every *StorageError carried by err, including those
// joined by Fanout.
func StorageErrors(err error) []*StorageError {
	if err == nil {
		return nil
	}

	var out []*StorageError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, StorageErrors(e)...)
		}
		return out
	}

	var se *StorageError
	if errors.As(err, &se) {
		out = append(out, se)
	}
	return out
}

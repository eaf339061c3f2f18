package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectStore is the slice of the minio client the blob sink uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// BlobConfig holds the S3-compatible endpoint settings.
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// BlobSink writes each record's summary and attachment bytes to an object
// store. Replacing an article writes a fresh prefix; old objects are kept.
type BlobSink struct {
	store  objectStore
	bucket string
	region string
}

// NewBlobSink creates a minio client for cfg.
func NewBlobSink(cfg BlobConfig) (*BlobSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return newBlobSink(client, cfg.Bucket, cfg.Region), nil
}

func newBlobSink(store objectStore, bucket, region string) *BlobSink {
	return &BlobSink{store: store, bucket: bucket, region: region}
}

// EnsureBucket creates the bucket if it is missing.
func (s *BlobSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.store.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.store.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Name implements Sink.
func (s *BlobSink) Name() string {
	return "blobs"
}

// RecordObjectKey is where the JSON summary of a record is stored.
func RecordObjectKey(recordID string) string {
	return fmt.Sprintf("records/%s/record.json", recordID)
}

// AttachmentObjectKey is where one attachment's bytes are stored. Attachments
// without a slot are numbered by their position in the record.
func AttachmentObjectKey(recordID string, position int, att mirror.Attachment) string {
	if att.Slot > 0 {
		return fmt.Sprintf("records/%s/attach%d", recordID, att.Slot)
	}
	return fmt.Sprintf("records/%s/extra%d", recordID, position)
}

// Emit implements Sink.
func (s *BlobSink) Emit(ctx context.Context, r *mirror.Record) error {
	return storageError(s.Name(), r, s.save(ctx, r))
}

func (s *BlobSink) save(ctx context.Context, r *mirror.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	if r.Article != nil {
		for i, att := range r.Article.Attachments {
			key := AttachmentObjectKey(r.ID, i, att)
			if err := s.put(ctx, key, att.Data, http.DetectContentType(att.Data)); err != nil {
				return err
			}
		}
	}

	summary, err := json.Marshal(r.Summary())
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.put(ctx, RecordObjectKey(r.ID), summary, "application/json")
}

func (s *BlobSink) put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.store.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Close implements Sink.
func (s *BlobSink) Close() error {
	return nil
}

// Package gcs provides a corpus cache backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/apiharbor/docpipe/internal/docjob"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// CorpusStore writes aggregated corpora to a configured GCS bucket. The
// corpus metadata rides along as object metadata.
type CorpusStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ docjob.CorpusStore = (*CorpusStore)(nil)

// New creates a GCS-backed corpus store.
func New(client *storage.Client, cfg Config) (*CorpusStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "corpora"
	}
	return &CorpusStore{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Store uploads the corpus and returns the object path used as the job's
// corpus key. Overwrites are idempotent.
func (s *CorpusStore) Store(ctx context.Context, jobID, content string, meta docjob.CorpusMeta) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", fmt.Errorf("job id is required")
	}
	key := s.objectPath(jobID)
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"
	if encoded, err := json.Marshal(meta); err == nil {
		writer.Metadata = map[string]string{"docpipe-meta": string(encoded)}
	}
	if _, err := io.WriteString(writer, content); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write corpus: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write corpus: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return key, nil
}

// Retrieve downloads the corpus stored under key.
func (s *CorpusStore) Retrieve(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("corpus key is required")
	}
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("open corpus %s: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read corpus %s: %w", key, err)
	}
	return string(data), nil
}

func (s *CorpusStore) objectPath(jobID string) string {
	return fmt.Sprintf("%s/%s.txt", s.prefix, jobID)
}

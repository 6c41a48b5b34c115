package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/apiharbor/docpipe/internal/docjob"
)

// CorpusStore keeps raw corpora in memory, keyed the same way the blob-backed
// store keys its objects so the two are interchangeable.
type CorpusStore struct {
	mu      sync.RWMutex
	content map[string]string
	meta    map[string]docjob.CorpusMeta
}

// NewCorpusStore builds an empty store.
func NewCorpusStore() *CorpusStore {
	return &CorpusStore{
		content: make(map[string]string),
		meta:    make(map[string]docjob.CorpusMeta),
	}
}

var _ docjob.CorpusStore = (*CorpusStore)(nil)

// Store saves the corpus and returns its key. Overwrites are idempotent.
func (s *CorpusStore) Store(_ context.Context, jobID, content string, meta docjob.CorpusMeta) (string, error) {
	key := Key(jobID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[key] = content
	s.meta[key] = meta
	return key, nil
}

// Retrieve returns the corpus stored under key.
func (s *CorpusStore) Retrieve(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.content[key]
	if !ok {
		return "", fmt.Errorf("no corpus stored under %q", key)
	}
	return content, nil
}

// Key derives the storage key for a job's corpus.
func Key(jobID string) string {
	return "corpora/" + jobID + ".txt"
}

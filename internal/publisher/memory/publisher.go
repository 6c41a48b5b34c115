// Package memory contains an in-memory completion publisher for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/apiharbor/docpipe/internal/docjob"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []docjob.CompletionEvent
}

var _ docjob.Publisher = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event docjob.CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns the recorded publishes.
func (p *Publisher) Events() []docjob.CompletionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]docjob.CompletionEvent, len(p.events))
	copy(out, p.events)
	return out
}

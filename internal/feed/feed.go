package feed

import (
	"context"
	"fmt"
	"time"

	"VulnDigest/internal/domain"
)

// Request carries all parameters required to execute a fetch.
type Request struct {
	Now      time.Time
	Lookback time.Duration
}

// Feed captures a single upstream adapter (Sec-Gemini, NVD, JVN, ...).
// A Fetch call covers exactly one source; failures never cascade to
// siblings.
type Feed interface {
	Name() domain.Source
	Fetch(ctx context.Context, req Request) ([]domain.RawRecord, error)
}

// Registry keeps a mapping from source names to their adapters.
type Registry struct {
	feeds map[domain.Source]Feed
	order []domain.Source
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: map[domain.Source]Feed{}}
}

// Register adds or replaces a feed adapter, preserving insertion order.
func (r *Registry) Register(f Feed) {
	if r.feeds == nil {
		r.feeds = map[domain.Source]Feed{}
	}
	if _, ok := r.feeds[f.Name()]; !ok {
		r.order = append(r.order, f.Name())
	}
	r.feeds[f.Name()] = f
}

// Resolve returns a feed by source name or an error if it is absent.
func (r *Registry) Resolve(name domain.Source) (Feed, error) {
	if f, ok := r.feeds[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("feed %s is not registered", name)
}

// Names lists registered sources in registration order.
func (r *Registry) Names() []domain.Source {
	out := make([]domain.Source, len(r.order))
	copy(out, r.order)
	return out
}

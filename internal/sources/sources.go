package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/desertthunder/vidport/internal/shared"
)

// Source is a place videos are migrated from.
type Source interface {
	// Name identifies the source in items and the registry.
	Name() string

	// Probe reports whether the object behind locator exists and its size.
	// A missing object is not an error: it yields Exists == false.
	Probe(ctx context.Context, locator string) (ProbeResult, error)

	// Fetch opens the object behind locator for reading. The returned size is
	// -1 when the source does not report one. A missing object returns an
	// error wrapping [shared.ErrNotFound].
	Fetch(ctx context.Context, locator string) (io.ReadCloser, int64, error)
}

// ProbeResult is the outcome of a [Source.Probe].
type ProbeResult struct {
	Exists bool
	Size   int64
}

// Failure classes written as the prefix of a failure reason.
const (
	Retryable = "retryable"
	Permanent = "permanent"
)

// Classify labels err as [Permanent] when retrying cannot help and as
// [Retryable] otherwise.
func Classify(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrInvalidInput):
		return Permanent
	default:
		return Retryable
	}
}

// Reason formats err as a failure reason carrying its class.
func Reason(err error) string {
	return fmt.Sprintf("%s: %v", Classify(err), err)
}

// Registry looks sources up by name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates a registry holding the given sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds s, replacing any source with the same name.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownSource, name)
	}
	return s, nil
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

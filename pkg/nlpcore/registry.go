package nlpcore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Extractor is the capability set implemented by RegexExtractor,
// CoprocessExtractor and RemoteExtractor alike.
type Extractor interface {
	// Describe lists the processors this Extractor instance can run.
	Describe(ctx context.Context) ([]ProcessorDescriptor, error)

	// ProcessBatch runs every bound processor over records, returning one
	// PerRecordResult per input record. The Controller matches results
	// on RecordID, so for it the order need not match input order; the
	// nlprp Server pairs results with content items by position.
	ProcessBatch(ctx context.Context, records []SourceRecord) ([]PerRecordResult, error)

	// Close releases any process/connection resources held by the
	// Extractor (child process, pooled HTTP transport, and so on).
	Close() error
}

// ExtractorRegistry resolves an ExtractorBinding to a live Extractor
// instance. Kept as an explicit object rather than package-level state so
// a Coordinator-spawned shard process builds its own registry with its
// own extractor lifetimes, never sharing one across shards.
type ExtractorRegistry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewExtractorRegistry builds an empty registry.
func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{extractors: make(map[string]Extractor)}
}

// Register binds a processor name (an ExtractorBinding.ProcessorName) to
// a live Extractor instance.
func (r *ExtractorRegistry) Register(name string, extractor Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[name] = extractor
}

// Get resolves a binding name to its Extractor, if registered.
func (r *ExtractorRegistry) Get(name string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[name]
	return e, ok
}

// MustGet resolves a binding name or returns an error naming it, used at
// planning time when an ExtractorBinding names an unregistered processor.
func (r *ExtractorRegistry) MustGet(name string) (Extractor, error) {
	if e, ok := r.Get(name); ok {
		return e, nil
	}
	return nil, fmt.Errorf("no extractor registered under %q", name)
}

// Names returns every registered binding name, sorted.
func (r *ExtractorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every registered extractor, collecting (not
// short-circuiting on) errors so a crashed coprocess child does not
// prevent the rest from shutting down cleanly.
func (r *ExtractorRegistry) CloseAll() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, e := range r.extractors {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing extractor %q: %w", name, err))
		}
	}
	return errs
}

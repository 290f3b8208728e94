package service

import "errors"

// Sentinel errors for the retrieval core's error taxonomy. Wrap with
// fmt.Errorf("service.Func: context: %w", ...) at the call site so callers
// can still errors.Is against the sentinel.
var (
	// ErrNotInitialized names use of a pipeline or store before init. No
	// code path in this module returns it: providers are fully constructed
	// before use and a failed reset keeps the previous provider.
	ErrNotInitialized = errors.New("not initialized")

	// ErrInvalidConfig is returned when a provider is missing a required
	// API key or endpoint.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrProviderTransport is returned on a non-2xx HTTP response or
	// malformed JSON from an embedding provider.
	ErrProviderTransport = errors.New("provider transport error")

	// ErrEmbeddingTimeout is returned when a single embed call exceeds the
	// per-embed timeout.
	ErrEmbeddingTimeout = errors.New("embedding timeout")

	// ErrStoreIO is returned on SQL execution failure.
	ErrStoreIO = errors.New("store io error")

	// ErrCorruptVector is returned for a decoded vector of the wrong
	// length or that could not be parsed.
	ErrCorruptVector = errors.New("corrupt vector")

	// ErrNotIndexed is returned when an item-by-example source item has no
	// stored chunks.
	ErrNotIndexed = errors.New("item not indexed")

	// ErrCancelled is returned when cooperative cancellation fires during
	// a long-running indexing run.
	ErrCancelled = errors.New("cancelled")
)

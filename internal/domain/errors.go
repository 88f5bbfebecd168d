package domain

import "errors"

// The engine's four-way error taxonomy (§7). Concrete call sites wrap one of
// these sentinels with fmt.Errorf("%w: ...", ...) so callers can errors.Is
// / errors.As to decide how to react: TransientNetwork is retried upstream,
// MalformedIndexerData fails one address, InconsistentStoreState and
// ConfigError are fatal to the enclosing operation.
var (
	// ErrTransientNetwork covers indexer unreachable/timeout conditions.
	// Retry policy is the server-pool manager's concern, not the core's.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrMalformedIndexerData covers missing fields or size mismatches in
	// an indexer response. Fails the single address; siblings keep going.
	ErrMalformedIndexerData = errors.New("malformed indexer data")
	// ErrInconsistentStoreState covers invariant violations the engine
	// itself should never produce, e.g. a missing AddressRecord for a
	// scriptPubkey just derived. Fatal to the enclosing operation.
	ErrInconsistentStoreState = errors.New("inconsistent store state")
	// ErrConfig covers unsupported formats or unknown purpose types.
	// Fatal at Start().
	ErrConfig = errors.New("invalid engine configuration")
)

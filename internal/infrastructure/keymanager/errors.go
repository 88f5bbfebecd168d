package keymanager

import "errors"

// PurposeType is the keymanager's internal classification of a derivation
// branch, one per wallet address format.
type PurposeType int

const (
	PurposeBIP32Legacy PurposeType = iota
	PurposeBIP44Legacy
	PurposeBIP49WrappedSegwit
	PurposeBIP84Segwit
)

var (
	// ErrNullDerivationPath ...
	ErrNullDerivationPath = errors.New("derivation path must not be null")
	// ErrMalformedDerivationPath ...
	ErrMalformedDerivationPath = errors.New("derivation path is malformed")
	// ErrInvalidDerivationPath ...
	ErrInvalidDerivationPath = errors.New("invalid derivation path")
	// ErrNetworkMismatch is returned when a textual address does not belong
	// to the network the KeyManager was configured for.
	ErrNetworkMismatch = errors.New("address does not belong to configured network")
)

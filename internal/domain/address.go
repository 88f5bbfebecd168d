package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AddressRecord is the store's unit of address bookkeeping, keyed by
// ScriptPubkey. Path is absent for externally-imported gap-limit addresses
// until the engine reconciles them against a derivation path.
type AddressRecord struct {
	ScriptPubkey string
	Path         *AddressPath

	Used    bool
	Balance decimal.Decimal

	// NetworkQueryVal is the opaque checkpoint from the last indexer
	// tx-history page read; passed back as `from` on the next fetch.
	NetworkQueryVal uint64

	LastQuery   time.Time
	LastTouched time.Time
}

// HasPath reports whether this record was derived by the engine (as opposed
// to imported via AddGapLimitAddresses without a path).
func (a *AddressRecord) HasPath() bool {
	return a != nil && a.Path != nil
}

// NewDerivedAddress builds the zero-value record setLookAhead persists for a
// freshly derived, not-yet-processed path.
func NewDerivedAddress(scriptPubkey string, path AddressPath) *AddressRecord {
	return &AddressRecord{
		ScriptPubkey:    scriptPubkey,
		Path:            &path,
		Used:            false,
		Balance:         decimal.Zero,
		NetworkQueryVal: 0,
	}
}

// NewImportedAddress builds the record AddGapLimitAddresses persists for a
// host-supplied, path-less scriptPubkey.
func NewImportedAddress(scriptPubkey string) *AddressRecord {
	return &AddressRecord{
		ScriptPubkey: scriptPubkey,
		Used:         false,
		Balance:      decimal.Zero,
	}
}

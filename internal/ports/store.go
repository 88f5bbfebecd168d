// Package ports declares the interfaces the engine consumes from its
// collaborators: the persistent store, the Blockbook-style indexer, the
// keymanager, and the event emitter. Concrete adapters live under
// internal/infrastructure.
package ports

import (
	"context"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
)

// AddressUpdate is the partial-update payload for
// UpdateAddressByScriptPubkey; nil fields are left untouched, non-nil
// fields overwrite the stored value.
type AddressUpdate struct {
	Used            *bool
	Balance         *string
	NetworkQueryVal *uint64
	Path            *domain.AddressPath
}

// Store is the persistent key-value abstraction the engine consumes (the
// "processor" of §6). Every method is expected to be individually atomic;
// the engine never assumes multi-method transactions.
type Store interface {
	FetchAddressByScriptPubkey(ctx context.Context, scriptPubkey string) (*domain.AddressRecord, error)
	FetchAddressCountFromPathPartition(ctx context.Context, key domain.BranchKey) (uint32, error)
	FetchScriptPubkeyByPath(ctx context.Context, path domain.AddressPath) (string, error)
	SaveAddress(ctx context.Context, record *domain.AddressRecord) error
	UpdateAddressByScriptPubkey(ctx context.Context, scriptPubkey string, update AddressUpdate) error

	FetchTransaction(ctx context.Context, txid string) (*domain.TransactionRecord, error)
	SaveTransaction(ctx context.Context, tx *domain.TransactionRecord) error

	FetchUtxosByScriptPubkey(ctx context.Context, scriptPubkey string) ([]*domain.UTXORecord, error)
	SaveUtxo(ctx context.Context, utxo *domain.UTXORecord) error
	RemoveUtxo(ctx context.Context, utxo *domain.UTXORecord) error
}

package normalize

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

// fakeUtxoStore is a minimal in-memory ports.Store sufficient for
// ReconcileUtxos -- only the UTXO methods are ever called.
type fakeUtxoStore struct {
	byID map[string]*domain.UTXORecord
}

func newFakeUtxoStore() *fakeUtxoStore {
	return &fakeUtxoStore{byID: make(map[string]*domain.UTXORecord)}
}

func (s *fakeUtxoStore) FetchAddressByScriptPubkey(context.Context, string) (*domain.AddressRecord, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeUtxoStore) FetchAddressCountFromPathPartition(context.Context, domain.BranchKey) (uint32, error) {
	return 0, fmt.Errorf("not implemented")
}
func (s *fakeUtxoStore) FetchScriptPubkeyByPath(context.Context, domain.AddressPath) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (s *fakeUtxoStore) SaveAddress(context.Context, *domain.AddressRecord) error {
	return fmt.Errorf("not implemented")
}
func (s *fakeUtxoStore) UpdateAddressByScriptPubkey(context.Context, string, ports.AddressUpdate) error {
	return fmt.Errorf("not implemented")
}
func (s *fakeUtxoStore) FetchTransaction(context.Context, string) (*domain.TransactionRecord, error) {
	return nil, nil
}
func (s *fakeUtxoStore) SaveTransaction(context.Context, *domain.TransactionRecord) error {
	return nil
}

func (s *fakeUtxoStore) FetchUtxosByScriptPubkey(_ context.Context, scriptPubkey string) ([]*domain.UTXORecord, error) {
	var out []*domain.UTXORecord
	for _, u := range s.byID {
		if u.ScriptPubkey == scriptPubkey {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeUtxoStore) SaveUtxo(_ context.Context, utxo *domain.UTXORecord) error {
	s.byID[utxo.ID()] = utxo
	return nil
}

func (s *fakeUtxoStore) RemoveUtxo(_ context.Context, utxo *domain.UTXORecord) error {
	delete(s.byID, utxo.ID())
	return nil
}

var _ ports.Store = (*fakeUtxoStore)(nil)

func noopFetchRawTx(context.Context, string) (string, error) {
	return "rawtxhex", nil
}

// TestReconcileUtxosUtxoDisappearance is the UTXO-disappearance boundary
// scenario at the normalizer level: a UTXO present on one reconciliation
// pass and absent on the next must be removed from the store.
func TestReconcileUtxosUtxoDisappearance(t *testing.T) {
	store := newFakeUtxoStore()
	ctx := context.Background()
	scriptPubkey := "spk1"
	path := &domain.AddressPath{Format: domain.FormatBIP84Segwit, ChangeIndex: domain.BranchReceive, AddressIndex: 0}

	first := []ports.IndexerUtxo{{Txid: "tx1", Vout: 0, Value: "1.0"}}
	require.NoError(t, ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, scriptPubkey, path, first))
	assert.Len(t, store.byID, 1)

	require.NoError(t, ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, scriptPubkey, path, nil))
	assert.Empty(t, store.byID)
}

func TestReconcileUtxosAddsOnlyNewEntries(t *testing.T) {
	store := newFakeUtxoStore()
	ctx := context.Background()
	scriptPubkey := "spk1"
	path := &domain.AddressPath{Format: domain.FormatBIP84Segwit, ChangeIndex: domain.BranchReceive, AddressIndex: 0}

	existing := []ports.IndexerUtxo{
		{Txid: "tx1", Vout: 0, Value: "1.0"},
		{Txid: "tx2", Vout: 1, Value: "2.0"},
	}
	require.NoError(t, ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, scriptPubkey, path, existing))
	require.Len(t, store.byID, 2)

	// Same set again: no duplicate creation, no removal.
	require.NoError(t, ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, scriptPubkey, path, existing))
	assert.Len(t, store.byID, 2)

	// A third entry appears alongside the first two.
	grown := append(existing, ports.IndexerUtxo{Txid: "tx3", Vout: 0, Value: "3.0"})
	require.NoError(t, ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, scriptPubkey, path, grown))
	assert.Len(t, store.byID, 3)
}

func TestReconcileUtxosScriptTypeByFormat(t *testing.T) {
	tests := []struct {
		format     domain.Format
		scriptType domain.ScriptType
	}{
		{domain.FormatBIP32Legacy, domain.ScriptTypeP2PKH},
		{domain.FormatBIP49WrappedSegwit, domain.ScriptTypeP2WPKHP2SH},
		{domain.FormatBIP84Segwit, domain.ScriptTypeP2WPKH},
	}
	for _, tt := range tests {
		store := newFakeUtxoStore()
		ctx := context.Background()
		path := &domain.AddressPath{Format: tt.format, ChangeIndex: domain.BranchReceive, AddressIndex: 0}
		utxos := []ports.IndexerUtxo{{Txid: "tx1", Vout: 0, Value: "1.0"}}

		require.NoError(t, ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, "spk1", path, utxos))
		record := store.byID[domain.UTXOID("tx1", 0)]
		require.NotNil(t, record)
		assert.Equal(t, tt.scriptType, record.ScriptType, "format %v", tt.format)
	}
}

func TestReconcileUtxosP2PKHFetchesRawTxHex(t *testing.T) {
	store := newFakeUtxoStore()
	ctx := context.Background()
	path := &domain.AddressPath{Format: domain.FormatBIP32Legacy, ChangeIndex: domain.BranchReceive, AddressIndex: 0}
	utxos := []ports.IndexerUtxo{{Txid: "tx1", Vout: 0, Value: "1.0"}}

	require.NoError(t, ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, "spk1", path, utxos))
	record := store.byID[domain.UTXOID("tx1", 0)]
	require.NotNil(t, record)
	assert.Equal(t, "rawtxhex", record.Script)
}

func TestReconcileUtxosImportedAddressHasNoScriptType(t *testing.T) {
	store := newFakeUtxoStore()
	ctx := context.Background()
	utxos := []ports.IndexerUtxo{{Txid: "tx1", Vout: 0, Value: "1.0"}}

	require.NoError(t, ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, "spk1", nil, utxos))
	record := store.byID[domain.UTXOID("tx1", 0)]
	require.NotNil(t, record)
	assert.Empty(t, record.ScriptType)
	assert.Equal(t, "spk1", record.Script)
}

func TestReconcileUtxosMalformedValue(t *testing.T) {
	store := newFakeUtxoStore()
	ctx := context.Background()
	path := &domain.AddressPath{Format: domain.FormatBIP84Segwit, ChangeIndex: domain.BranchReceive, AddressIndex: 0}
	utxos := []ports.IndexerUtxo{{Txid: "tx1", Vout: 0, Value: "not-a-number"}}

	err := ReconcileUtxos(ctx, store, fakeKeyManager{}, noopFetchRawTx, "spk1", path, utxos)
	assert.ErrorIs(t, err, domain.ErrMalformedIndexerData)
}

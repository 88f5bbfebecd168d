package badger

import (
	"context"
	"testing"
	"time"

	badgerv3 "github.com/dgraph-io/badger/v3"
	"github.com/shopspring/decimal"
	"github.com/timshannon/badgerhold/v4"
	"github.com/stretchr/testify/require"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badgerhold.Open(badgerhold.Options{
		Encoder: badgerhold.DefaultEncode,
		Decoder: badgerhold.DefaultDecode,
		Options: badgerv3.DefaultOptions("").WithInMemory(true),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: db}
}

func TestSaveAndFetchAddressByScriptPubkey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := domain.NewDerivedAddress("deadbeef", domain.AddressPath{
		Format: domain.FormatBIP84Segwit, ChangeIndex: domain.BranchReceive, AddressIndex: 0,
	})
	require.NoError(t, store.SaveAddress(ctx, record))

	fetched, err := store.FetchAddressByScriptPubkey(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.True(t, fetched.HasPath())
	require.Equal(t, uint32(0), fetched.Path.AddressIndex)
	require.True(t, decimal.Zero.Equal(fetched.Balance))
}

func TestFetchAddressByScriptPubkeyMissing(t *testing.T) {
	store := newTestStore(t)
	fetched, err := store.FetchAddressByScriptPubkey(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, fetched)
}

func TestAddressCountFromPathPartition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := domain.BranchKey{Format: domain.FormatBIP84Segwit, ChangeIndex: domain.BranchReceive}

	for i := uint32(0); i < 5; i++ {
		path := domain.AddressPath{Format: key.Format, ChangeIndex: key.ChangeIndex, AddressIndex: i}
		sp := "sp" + string(rune('a'+i))
		require.NoError(t, store.SaveAddress(ctx, domain.NewDerivedAddress(sp, path)))
	}
	// A path-less, externally-imported address must not count toward the
	// branch's address count.
	require.NoError(t, store.SaveAddress(ctx, domain.NewImportedAddress("imported")))

	n, err := store.FetchAddressCountFromPathPartition(ctx, key)
	require.NoError(t, err)
	require.Equal(t, uint32(5), n)
}

func TestSaveAddressPreservesTimestamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := domain.NewImportedAddress("sp")
	record.LastQuery = time.Unix(1700000000, 0).UTC()
	record.LastTouched = time.Unix(1700000500, 0).UTC()
	require.NoError(t, store.SaveAddress(ctx, record))

	fetched, err := store.FetchAddressByScriptPubkey(ctx, "sp")
	require.NoError(t, err)
	require.True(t, record.LastQuery.Equal(fetched.LastQuery))
	require.True(t, record.LastTouched.Equal(fetched.LastTouched))
}

func TestFetchScriptPubkeyByPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	path := domain.AddressPath{Format: domain.FormatBIP32Legacy, AddressIndex: 2}
	require.NoError(t, store.SaveAddress(ctx, domain.NewDerivedAddress("sp2", path)))

	sp, err := store.FetchScriptPubkeyByPath(ctx, path)
	require.NoError(t, err)
	require.Equal(t, "sp2", sp)

	missing, err := store.FetchScriptPubkeyByPath(ctx, domain.AddressPath{Format: domain.FormatBIP32Legacy, AddressIndex: 9})
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestUpdateAddressByScriptPubkey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveAddress(ctx, domain.NewImportedAddress("sp")))

	used := true
	balance := "1500"
	require.NoError(t, store.UpdateAddressByScriptPubkey(ctx, "sp", ports.AddressUpdate{
		Used: &used, Balance: &balance,
	}))

	fetched, err := store.FetchAddressByScriptPubkey(ctx, "sp")
	require.NoError(t, err)
	require.True(t, fetched.Used)
	require.Equal(t, "1500", fetched.Balance.String())
}

func TestUpdateAddressByScriptPubkeyMissingIsInconsistentStoreState(t *testing.T) {
	store := newTestStore(t)
	used := true
	err := store.UpdateAddressByScriptPubkey(context.Background(), "missing", ports.AddressUpdate{Used: &used})
	require.ErrorIs(t, err, domain.ErrInconsistentStoreState)
}

func TestUtxoSaveFetchRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := &domain.UTXORecord{Txid: "tx1", Vout: 0, Value: decimal.NewFromInt(1000), ScriptPubkey: "sp", ScriptType: domain.ScriptTypeP2WPKH}
	b := &domain.UTXORecord{Txid: "tx1", Vout: 1, Value: decimal.NewFromInt(2000), ScriptPubkey: "sp", ScriptType: domain.ScriptTypeP2WPKH}
	require.NoError(t, store.SaveUtxo(ctx, a))
	require.NoError(t, store.SaveUtxo(ctx, b))

	utxos, err := store.FetchUtxosByScriptPubkey(ctx, "sp")
	require.NoError(t, err)
	require.Len(t, utxos, 2)

	require.NoError(t, store.RemoveUtxo(ctx, b))
	utxos, err = store.FetchUtxosByScriptPubkey(ctx, "sp")
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, "tx1", utxos[0].Txid)
	require.Equal(t, uint32(0), utxos[0].Vout)
}

func TestTransactionSaveFetchRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := &domain.TransactionRecord{
		Txid:        "tx1",
		Hex:         "0100",
		BlockHeight: 100,
		BlockTime:   1700000000,
		Fees:        decimal.NewFromInt(150),
		Inputs: []domain.TxInput{
			{Txid: "prev", Vout: 0, ScriptPubkey: "sp0", Amount: decimal.NewFromInt(5000)},
		},
		Outputs: []domain.TxOutput{
			{Index: 0, ScriptPubkey: "sp1", Amount: decimal.NewFromInt(4850)},
		},
		OurAmount: decimal.Zero,
	}
	require.NoError(t, store.SaveTransaction(ctx, tx))

	fetched, err := store.FetchTransaction(ctx, "tx1")
	require.NoError(t, err)
	require.Equal(t, tx.Hex, fetched.Hex)
	require.Equal(t, tx.BlockHeight, fetched.BlockHeight)
	require.Len(t, fetched.Inputs, 1)
	require.Len(t, fetched.Outputs, 1)
	require.True(t, tx.Fees.Equal(fetched.Fees))
}

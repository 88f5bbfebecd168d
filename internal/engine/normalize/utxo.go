package normalize

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

// RawTxFetcher returns the raw hex of a transaction, consulting the store's
// cache before falling back to the indexer — the legacy/Airbitz UTXO
// script field is the raw tx hex, not the scriptPubkey.
type RawTxFetcher func(ctx context.Context, txid string) (string, error)

// ReconcileUtxos implements §4.F's UTXO reconciliation: read all stored
// UTXOs for scriptPubkey into a map keyed by id, diff against what the
// indexer reports, create what's missing, delete what's gone.
func ReconcileUtxos(
	ctx context.Context,
	store ports.Store,
	km ports.KeyManager,
	fetchRawTx RawTxFetcher,
	scriptPubkey string,
	path *domain.AddressPath,
	indexerUtxos []ports.IndexerUtxo,
) error {
	stored, err := store.FetchUtxosByScriptPubkey(ctx, scriptPubkey)
	if err != nil {
		return err
	}
	byID := make(map[string]*domain.UTXORecord, len(stored))
	for _, u := range stored {
		byID[u.ID()] = u
	}

	for _, iu := range indexerUtxos {
		id := domain.UTXOID(iu.Txid, iu.Vout)
		if _, ok := byID[id]; ok {
			delete(byID, id)
			continue
		}

		record, err := newUtxoRecord(ctx, km, fetchRawTx, scriptPubkey, path, iu)
		if err != nil {
			return err
		}
		if err := store.SaveUtxo(ctx, record); err != nil {
			return err
		}
	}

	for _, leftover := range byID {
		if err := store.RemoveUtxo(ctx, leftover); err != nil {
			return err
		}
	}
	return nil
}

func newUtxoRecord(
	ctx context.Context,
	km ports.KeyManager,
	fetchRawTx RawTxFetcher,
	scriptPubkey string,
	path *domain.AddressPath,
	iu ports.IndexerUtxo,
) (*domain.UTXORecord, error) {
	value, err := decimal.NewFromString(zeroIfEmpty(iu.Value))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing utxo value for %s:%d: %v", domain.ErrMalformedIndexerData, iu.Txid, iu.Vout, err)
	}

	record := &domain.UTXORecord{
		Txid:         iu.Txid,
		Vout:         iu.Vout,
		Value:        value,
		ScriptPubkey: scriptPubkey,
		BlockHeight:  iu.Height,
	}

	if path == nil {
		// No known derivation path (externally imported address, §9 open
		// question): this record's script type is left unset; a UTXO already
		// stored is kept as-is on later reconciliations, even after the
		// address's path is patched in.
		record.Script = scriptPubkey
		return record, nil
	}

	scriptType, err := domain.ScriptTypeForFormat(path.Format)
	if err != nil {
		return nil, err
	}
	record.ScriptType = scriptType

	switch scriptType {
	case domain.ScriptTypeP2PKH:
		hex, err := fetchRawTx(ctx, iu.Txid)
		if err != nil {
			return nil, err
		}
		record.Script = hex
	case domain.ScriptTypeP2WPKHP2SH:
		record.Script = scriptPubkey
		spk, err := km.GetScriptPubkey(*path)
		if err != nil {
			return nil, fmt.Errorf("%w: deriving redeem script for %v: %v", domain.ErrInconsistentStoreState, path, err)
		}
		record.RedeemScript = spk.RedeemScript
	case domain.ScriptTypeP2WPKH:
		record.Script = scriptPubkey
	}

	return record, nil
}

// Package normalize converts indexer wire records into the store's
// canonical TransactionRecord / UTXORecord shapes (§4.F).
package normalize

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

// Transaction maps one indexer tx record onto the store's canonical form.
// Inputs whose indexer record lacks a scriptPubkey have it synthesized from
// the input's first declared address via the keymanager — a documented
// Blockbook quirk. OurIns/OurOuts/OurAmount are left empty; a downstream
// wallet-accounting component annotates them.
func Transaction(tx ports.IndexerTx, km ports.KeyManager) (*domain.TransactionRecord, error) {
	fees, err := decimal.NewFromString(zeroIfEmpty(tx.Fees))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing fees for tx %s: %v", domain.ErrMalformedIndexerData, tx.Txid, err)
	}

	inputs := make([]domain.TxInput, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		sp := in.ScriptPubkey
		if sp == "" {
			if len(in.Addresses) == 0 {
				return nil, fmt.Errorf(
					"%w: input of tx %s has no scriptPubkey and no declared address",
					domain.ErrMalformedIndexerData, tx.Txid,
				)
			}
			derived, err := km.AddressToScriptPubkey(in.Addresses[0])
			if err != nil {
				return nil, fmt.Errorf(
					"%w: synthesizing scriptPubkey for tx %s input: %v",
					domain.ErrMalformedIndexerData, tx.Txid, err,
				)
			}
			sp = derived
		}

		amount, err := decimal.NewFromString(zeroIfEmpty(in.Amount))
		if err != nil {
			return nil, fmt.Errorf("%w: parsing input amount for tx %s: %v", domain.ErrMalformedIndexerData, tx.Txid, err)
		}

		inputs = append(inputs, domain.TxInput{
			Txid:         in.Txid,
			Vout:         in.Vout,
			ScriptPubkey: sp,
			Amount:       amount,
		})
	}

	outputs := make([]domain.TxOutput, 0, len(tx.Outputs))
	for _, out := range tx.Outputs {
		amount, err := decimal.NewFromString(zeroIfEmpty(out.Amount))
		if err != nil {
			return nil, fmt.Errorf("%w: parsing output amount for tx %s: %v", domain.ErrMalformedIndexerData, tx.Txid, err)
		}
		outputs = append(outputs, domain.TxOutput{
			Index:        out.N,
			ScriptPubkey: out.ScriptPubkey,
			Amount:       amount,
		})
	}

	return &domain.TransactionRecord{
		Txid:        tx.Txid,
		Hex:         tx.Hex,
		BlockHeight: tx.BlockHeight,
		BlockTime:   tx.BlockTime,
		Fees:        fees,
		Inputs:      inputs,
		Outputs:     outputs,
		OurAmount:   decimal.Zero,
	}, nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

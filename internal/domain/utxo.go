package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ScriptType classifies the locking/redeem script shape of a UTXO, one per
// supported address format.
type ScriptType string

const (
	ScriptTypeP2PKH       ScriptType = "p2pkh"
	ScriptTypeP2WPKHP2SH  ScriptType = "p2wpkhp2sh"
	ScriptTypeP2WPKH      ScriptType = "p2wpkh"
)

// ScriptTypeForFormat maps a wallet address format to the UTXO script type
// the normalizer must record for its outputs (§4.F).
func ScriptTypeForFormat(format Format) (ScriptType, error) {
	switch format {
	case FormatBIP32Legacy, FormatBIP44Legacy:
		return ScriptTypeP2PKH, nil
	case FormatBIP49WrappedSegwit:
		return ScriptTypeP2WPKHP2SH, nil
	case FormatBIP84Segwit:
		return ScriptTypeP2WPKH, nil
	default:
		return "", fmt.Errorf("%w: unsupported address format %q", ErrConfig, format)
	}
}

// UTXORecord is keyed by ID = txid + "_" + vout; at most one record exists
// per (Txid, Vout) pair across the whole store.
type UTXORecord struct {
	Txid  string
	Vout  uint32
	Value decimal.Decimal

	ScriptPubkey  string
	Script        string
	RedeemScript  string
	ScriptType    ScriptType

	BlockHeight uint32 // 0 == unconfirmed
}

// ID is the store's canonical key for this UTXO.
func (u *UTXORecord) ID() string {
	return UTXOID(u.Txid, u.Vout)
}

// UTXOID builds the canonical id = txid + "_" + vout key.
func UTXOID(txid string, vout uint32) string {
	return fmt.Sprintf("%s_%d", txid, vout)
}

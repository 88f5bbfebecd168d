package ports

import "github.com/walletsync-engine/walletsyncd/internal/domain"

// ScriptPubkeyResult is GetScriptPubkey's output: the scriptPubkey for the
// path and, for wrapped-segwit, its redeem script.
type ScriptPubkeyResult struct {
	ScriptPubkey string
	RedeemScript string
}

// KeyManager is the pure key-derivation / script-encoding library the
// engine consumes. It holds no network or store state.
type KeyManager interface {
	// AddressToScriptPubkey encodes a textual address to its locking
	// script hex.
	AddressToScriptPubkey(address string) (string, error)
	// ScriptPubkeyToAddress decodes a locking script hex back to its
	// textual address for the given format.
	ScriptPubkeyToAddress(scriptPubkey string, format domain.Format) (string, error)
	// GetScriptPubkey derives the scriptPubkey (and, for wrapped-segwit,
	// the redeem script) for a fully specified address path.
	GetScriptPubkey(path domain.AddressPath) (ScriptPubkeyResult, error)
	// GetAddress derives the textual address for a fully specified path.
	GetAddress(path domain.AddressPath) (string, error)
	// ValidScriptPubkeyFromAddress validates that address decodes to a
	// scriptPubkey under the given network, returning it.
	ValidScriptPubkeyFromAddress(address string) (string, error)
}

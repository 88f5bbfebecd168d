package keymanager

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// DerivationPath is the internal representation of a hierarchical
// deterministic wallet account path.
type DerivationPath []uint32

// BaseDerivationPaths maps each supported purpose type to the BIP-43
// account-level path its addresses are derived under (coin type 0).
var BaseDerivationPaths = map[PurposeType]DerivationPath{
	PurposeBIP32Legacy: {hdkeychain.HardenedKeyStart + 0},
	PurposeBIP44Legacy: {
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 0,
	},
	PurposeBIP49WrappedSegwit: {
		hdkeychain.HardenedKeyStart + 49,
		hdkeychain.HardenedKeyStart + 0,
	},
	PurposeBIP84Segwit: {
		hdkeychain.HardenedKeyStart + 84,
		hdkeychain.HardenedKeyStart + 0,
	},
}

// String converts a binary derivation path to its canonical representation,
// e.g. "m/84'/0'/1/7". Used only for diagnostics: the engine itself
// addresses branches by (format, changeIndex, addressIndex), never by path
// string.
func (path DerivationPath) String() string {
	if len(path) <= 0 {
		return ""
	}

	result := "m"
	for _, component := range path {
		var hardened bool
		if component >= hdkeychain.HardenedKeyStart {
			component -= hdkeychain.HardenedKeyStart
			hardened = true
		}
		result = fmt.Sprintf("%s/%d", result, component)
		if hardened {
			result += "'"
		}
	}
	return result
}

// Package keymanager is the concrete, watch-only key-derivation and
// script-encoding collaborator of §6: given the wallet's account-level
// extended public keys (one per declared address format), it derives
// scriptPubkeys and textual addresses for any (format, branch, index) path.
// It holds no network or store state and never touches private key
// material.
package keymanager

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

// purposeByDomainFormat maps the domain's wallet-descriptor Format onto the
// keymanager's internal PurposeType, the key BaseDerivationPaths is indexed
// by.
var purposeByDomainFormat = map[domain.Format]PurposeType{
	domain.FormatBIP32Legacy:        PurposeBIP32Legacy,
	domain.FormatBIP44Legacy:        PurposeBIP44Legacy,
	domain.FormatBIP49WrappedSegwit: PurposeBIP49WrappedSegwit,
	domain.FormatBIP84Segwit:        PurposeBIP84Segwit,
}

// derivationPathString renders path's full BIP-32 path for diagnostics,
// composing BaseDerivationPaths's account-level prefix with the path's
// branch and address index. It never participates in key derivation
// itself — deriveHash160 walks the account extended key directly.
func derivationPathString(path domain.AddressPath) (string, error) {
	purpose, ok := purposeByDomainFormat[path.Format]
	if !ok {
		return "", fmt.Errorf("%w: unsupported address format %q", domain.ErrConfig, path.Format)
	}
	base, ok := BaseDerivationPaths[purpose]
	if !ok {
		return "", fmt.Errorf("%w: no base derivation path for purpose %v", domain.ErrConfig, purpose)
	}
	full := append(append(DerivationPath{}, base...), uint32(path.ChangeIndex), path.AddressIndex)
	return full.String(), nil
}

// KeyManager implements ports.KeyManager over btcd's HD key and script
// primitives.
type KeyManager struct {
	network     *chaincfg.Params
	accountKeys map[domain.Format]*hdkeychain.ExtendedKey
}

// New parses the wallet descriptor's account-level extended keys (base58,
// one per declared format) and builds a KeyManager scoped to network.
// Extended private keys are accepted too but neutered immediately — the
// core never signs, so no private key material is retained.
func New(network *chaincfg.Params, extendedKeys map[domain.Format]string) (*KeyManager, error) {
	accountKeys := make(map[domain.Format]*hdkeychain.ExtendedKey, len(extendedKeys))
	for format, xkey := range extendedKeys {
		key, err := hdkeychain.NewKeyFromString(xkey)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing extended key for format %q: %v", domain.ErrConfig, format, err)
		}
		if key.IsPrivate() {
			pub, err := key.Neuter()
			if err != nil {
				return nil, fmt.Errorf("%w: neutering extended key for format %q: %v", domain.ErrConfig, format, err)
			}
			key = pub
		}
		accountKeys[format] = key
	}
	return &KeyManager{network: network, accountKeys: accountKeys}, nil
}

// deriveHash160 walks the account-level extended key down to
// (changeIndex, addressIndex) and returns the HASH160 of the resulting
// compressed public key, the common input to every format's address
// encoding.
func (k *KeyManager) deriveHash160(path domain.AddressPath) ([]byte, error) {
	if full, err := derivationPathString(path); err == nil {
		log.WithField("path", full).Debug("deriving address")
	}

	account, ok := k.accountKeys[path.Format]
	if !ok {
		return nil, fmt.Errorf("%w: no extended key configured for format %q", domain.ErrConfig, path.Format)
	}
	branchKey, err := account.Derive(uint32(path.ChangeIndex))
	if err != nil {
		return nil, fmt.Errorf("%w: deriving branch %d: %v", domain.ErrInconsistentStoreState, path.ChangeIndex, err)
	}
	addressKey, err := branchKey.Derive(path.AddressIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving address index %d: %v", domain.ErrInconsistentStoreState, path.AddressIndex, err)
	}
	pubKey, err := addressKey.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: reading public key at %v: %v", domain.ErrInconsistentStoreState, path, err)
	}
	return btcutil.Hash160(pubKey.SerializeCompressed()), nil
}

// addressForFormat encodes hash160 as the address shape a format declares:
// P2PKH for legacy/Airbitz, P2SH-wrapped P2WPKH for wrapped-segwit, native
// P2WPKH for segwit.
func (k *KeyManager) addressForFormat(format domain.Format, hash160 []byte) (btcutil.Address, error) {
	switch format {
	case domain.FormatBIP32Legacy, domain.FormatBIP44Legacy:
		return btcutil.NewAddressPubKeyHash(hash160, k.network)
	case domain.FormatBIP49WrappedSegwit:
		redeemScript, err := k.wrappedSegwitRedeemScript(hash160)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(redeemScript, k.network)
	case domain.FormatBIP84Segwit:
		return btcutil.NewAddressWitnessPubKeyHash(hash160, k.network)
	default:
		return nil, fmt.Errorf("%w: unsupported address format %q", domain.ErrConfig, format)
	}
}

// wrappedSegwitRedeemScript is the witness-program script a P2SH-P2WPKH
// address pays into: the locking script of the native-segwit address for
// the same hash160.
func (k *KeyManager) wrappedSegwitRedeemScript(hash160 []byte) ([]byte, error) {
	witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(hash160, k.network)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(witnessAddr)
}

// GetAddress implements ports.KeyManager.
func (k *KeyManager) GetAddress(path domain.AddressPath) (string, error) {
	hash160, err := k.deriveHash160(path)
	if err != nil {
		return "", err
	}
	addr, err := k.addressForFormat(path.Format, hash160)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// GetScriptPubkey implements ports.KeyManager. For wrapped-segwit it also
// returns the redeem script the P2SH address hashes.
func (k *KeyManager) GetScriptPubkey(path domain.AddressPath) (ports.ScriptPubkeyResult, error) {
	hash160, err := k.deriveHash160(path)
	if err != nil {
		return ports.ScriptPubkeyResult{}, err
	}
	addr, err := k.addressForFormat(path.Format, hash160)
	if err != nil {
		return ports.ScriptPubkeyResult{}, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return ports.ScriptPubkeyResult{}, err
	}

	result := ports.ScriptPubkeyResult{ScriptPubkey: hex.EncodeToString(script)}
	if path.Format == domain.FormatBIP49WrappedSegwit {
		redeemScript, err := k.wrappedSegwitRedeemScript(hash160)
		if err != nil {
			return ports.ScriptPubkeyResult{}, err
		}
		result.RedeemScript = hex.EncodeToString(redeemScript)
	}
	return result, nil
}

// AddressToScriptPubkey implements ports.KeyManager: decode a textual
// address and re-encode its locking script.
func (k *KeyManager) AddressToScriptPubkey(address string) (string, error) {
	addr, err := btcutil.DecodeAddress(address, k.network)
	if err != nil {
		return "", fmt.Errorf("%w: decoding address %s: %v", domain.ErrMalformedIndexerData, address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", fmt.Errorf("%w: encoding scriptPubkey for %s: %v", domain.ErrMalformedIndexerData, address, err)
	}
	return hex.EncodeToString(script), nil
}

// ScriptPubkeyToAddress implements ports.KeyManager: decode a locking
// script hex back to its textual address. format is accepted for interface
// symmetry with GetAddress but is not needed — the script itself encodes
// its class.
func (k *KeyManager) ScriptPubkeyToAddress(scriptPubkey string, format domain.Format) (string, error) {
	raw, err := hex.DecodeString(scriptPubkey)
	if err != nil {
		return "", fmt.Errorf("%w: decoding scriptPubkey %s: %v", domain.ErrMalformedIndexerData, scriptPubkey, err)
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(raw, k.network)
	if err != nil {
		return "", fmt.Errorf("%w: parsing scriptPubkey %s: %v", domain.ErrMalformedIndexerData, scriptPubkey, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: no address extractable from scriptPubkey %s", domain.ErrMalformedIndexerData, scriptPubkey)
	}
	return addrs[0].EncodeAddress(), nil
}

// ValidScriptPubkeyFromAddress implements ports.KeyManager: validate that
// address belongs to the configured network and return its scriptPubkey.
func (k *KeyManager) ValidScriptPubkeyFromAddress(address string) (string, error) {
	addr, err := btcutil.DecodeAddress(address, k.network)
	if err != nil {
		return "", fmt.Errorf("%w: decoding address %s: %v", domain.ErrConfig, address, err)
	}
	if !addr.IsForNet(k.network) {
		return "", fmt.Errorf("%w: address %s is not valid for network %s", ErrNetworkMismatch, address, k.network.Name)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", fmt.Errorf("%w: encoding scriptPubkey for %s: %v", domain.ErrConfig, address, err)
	}
	return hex.EncodeToString(script), nil
}

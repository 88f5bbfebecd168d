// Package domain holds the core data model of the synchronization engine:
// address paths and records, transaction records and UTXO records, and the
// path algebra that maps a wallet's declared address formats onto the HD
// branches the engine walks.
package domain

import "fmt"

// Format enumerates the address formats a wallet descriptor can declare.
type Format string

const (
	FormatBIP32Legacy        Format = "bip32-legacy"
	FormatBIP44Legacy        Format = "bip44-legacy"
	FormatBIP49WrappedSegwit Format = "bip49-wrapped-segwit"
	FormatBIP84Segwit        Format = "bip84-segwit"
)

// PurposeType is the BIP-43 derivation purpose marker a Format maps onto.
type PurposeType string

const (
	PurposeLegacy        PurposeType = "legacy"
	PurposeAirbitzLegacy PurposeType = "airbitz-legacy"
	PurposeWrappedSegwit PurposeType = "wrapped-segwit"
	PurposeSegwit        PurposeType = "segwit"
)

// Branch is the receive (0) or change (1) sub-chain of a derivation path.
type Branch uint32

const (
	BranchReceive Branch = 0
	BranchChange  Branch = 1
)

// purposeByFormat is the (format -> purpose) half of the path algebra; it is
// the only place in the engine that knows how wallet formats map onto BIP-43
// purposes.
var purposeByFormat = map[Format]PurposeType{
	FormatBIP32Legacy:        PurposeLegacy,
	FormatBIP44Legacy:        PurposeAirbitzLegacy,
	FormatBIP49WrappedSegwit: PurposeWrappedSegwit,
	FormatBIP84Segwit:        PurposeSegwit,
}

// PurposeType returns the BIP-43 purpose a format derives under.
func (f Format) PurposeType() (PurposeType, error) {
	p, ok := purposeByFormat[f]
	if !ok {
		return "", fmt.Errorf("%w: unsupported address format %q", ErrConfig, f)
	}
	return p, nil
}

// SupportedBranches returns the branches a format's purpose type supports.
// Legacy and Airbitz-legacy purposes have no change branch; wrapped-segwit
// and native segwit support both receive and change.
func (f Format) SupportedBranches() ([]Branch, error) {
	purpose, err := f.PurposeType()
	if err != nil {
		return nil, err
	}
	switch purpose {
	case PurposeLegacy, PurposeAirbitzLegacy:
		return []Branch{BranchReceive}, nil
	case PurposeWrappedSegwit, PurposeSegwit:
		return []Branch{BranchReceive, BranchChange}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported purpose type %q", ErrConfig, purpose)
	}
}

// SupportsBranch reports whether a format's purpose type derives the given
// branch at all.
func (f Format) SupportsBranch(branch Branch) bool {
	branches, err := f.SupportedBranches()
	if err != nil {
		return false
	}
	for _, b := range branches {
		if b == branch {
			return true
		}
	}
	return false
}

// AddressPath uniquely identifies a derivable address slot.
type AddressPath struct {
	Format       Format
	ChangeIndex  Branch
	AddressIndex uint32
}

// Validate checks that the path's branch is actually supported by its
// format, the ConfigError case of §7's error taxonomy.
func (p AddressPath) Validate() error {
	if !p.Format.SupportsBranch(p.ChangeIndex) {
		return fmt.Errorf(
			"%w: format %q does not support branch %d",
			ErrConfig, p.Format, p.ChangeIndex,
		)
	}
	return nil
}

// Branch identifies a single (format, changeIndex) sub-chain, the unit the
// store's path partition indexes address counts by.
type BranchKey struct {
	Format      Format
	ChangeIndex Branch
}

func (p AddressPath) BranchKey() BranchKey {
	return BranchKey{Format: p.Format, ChangeIndex: p.ChangeIndex}
}

func (k BranchKey) String() string {
	return fmt.Sprintf("%s/%d", k.Format, k.ChangeIndex)
}

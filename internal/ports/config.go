package ports

import "github.com/walletsync-engine/walletsyncd/internal/domain"

// CurrencyInfo carries the per-currency knobs the engine needs: the gap
// limit discipline and the currency code stamped onto BALANCE_CHANGED
// events.
type CurrencyInfo struct {
	GapLimit     uint32
	Network      string
	CurrencyCode string
}

// WalletInfo is the wallet descriptor: the declared address formats to
// synchronize, as a list.
type WalletInfo struct {
	Formats []domain.Format
}

// Config is the engine's full dependency bundle (§6).
type Config struct {
	CurrencyInfo CurrencyInfo
	WalletInfo   WalletInfo

	KeyManager KeyManager
	Store      Store
	Indexer    Indexer
	Emitter    Emitter
}

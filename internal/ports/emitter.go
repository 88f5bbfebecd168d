package ports

// EventType enumerates the events the engine fans out (§6).
type EventType string

const (
	EventAddressesChecked EventType = "ADDRESSES_CHECKED"
	EventBalanceChanged   EventType = "BALANCE_CHANGED"
	EventTxidsChanged     EventType = "TXIDS_CHANGED"
)

// AddressesCheckedPayload carries the progress ratio, always in [0,1].
type AddressesCheckedPayload struct {
	Ratio float64
}

// BalanceChangedPayload carries a per-currency balance update.
type BalanceChangedPayload struct {
	CurrencyCode string
	Balance      string
}

// TxidsChangedPayload carries a batch of txid -> blockTime entries changed
// in a single tx-history page fetch.
type TxidsChangedPayload struct {
	BlockTimeByTxid map[string]int64
}

// Emitter is the event channel the engine publishes progress, balance, and
// transaction-set change notifications to. The host application supplies a
// concrete implementation (pubsub, websocket fan-out, etc).
type Emitter interface {
	EmitAddressesChecked(AddressesCheckedPayload)
	EmitBalanceChanged(BalanceChangedPayload)
	EmitTxidsChanged(TxidsChangedPayload)
	// EmitError surfaces an out-of-band engine error (§7: Start() itself
	// never rejects once dispatched).
	EmitError(error)
}

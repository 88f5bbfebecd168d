package ports

import "context"

// AddressDetailsOpts parameterizes FetchAddress's tx-history pagination.
type AddressDetailsOpts struct {
	Details string
	From    uint64
	PerPage int
	Page    int
}

// IndexerTx is one entry of FetchAddress's Transactions page.
type IndexerTx struct {
	Txid        string
	Hex         string
	BlockHeight uint32
	BlockTime   int64
	Fees        string

	Inputs  []IndexerTxInput
	Outputs []IndexerTxOutput
}

// IndexerTxInput is one input of an IndexerTx. ScriptPubkey may be empty —
// a documented Blockbook quirk the normalizer works around by deriving it
// from Addresses[0] via the keymanager.
type IndexerTxInput struct {
	Txid         string
	Vout         uint32
	ScriptPubkey string
	Addresses    []string
	Amount       string
}

// IndexerTxOutput is one output of an IndexerTx.
type IndexerTxOutput struct {
	N            uint32
	ScriptPubkey string
	Amount       string
}

// AddressDetails is FetchAddress's response.
type AddressDetails struct {
	Balance             string
	UnconfirmedBalance  string
	Txs                 int
	UnconfirmedTxs      int
	Transactions        []IndexerTx
	TotalPages          int
}

// IndexerUtxo is one entry of FetchAddressUtxos's response.
type IndexerUtxo struct {
	Txid   string
	Vout   uint32
	Value  string
	Height uint32 // 0 when unconfirmed
}

// RawTx is FetchTransaction's response: the full hex-encoded transaction.
type RawTx struct {
	Txid string
	Hex  string
}

// AddressChange is delivered to a WatchAddresses callback on any push event
// touching a watched address.
type AddressChange struct {
	Address string
}

// Indexer is the Blockbook-style backend the engine consumes. Implementations
// are expected to translate backend failures into the §7 error taxonomy
// (network/timeout errors wrapped in domain.ErrTransientNetwork).
type Indexer interface {
	FetchAddress(ctx context.Context, address string, opts AddressDetailsOpts) (*AddressDetails, error)
	FetchAddressUtxos(ctx context.Context, address string) ([]IndexerUtxo, error)
	FetchTransaction(ctx context.Context, txid string) (*RawTx, error)
	WatchAddresses(ctx context.Context, addresses []string, cb func(AddressChange)) error
}

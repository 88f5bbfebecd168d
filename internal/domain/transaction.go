package domain

import "github.com/shopspring/decimal"

// TxInput is one input of a TransactionRecord.
type TxInput struct {
	Txid         string
	Vout         uint32
	ScriptPubkey string
	Amount       decimal.Decimal
}

// TxOutput is one output of a TransactionRecord.
type TxOutput struct {
	Index        uint32
	ScriptPubkey string
	Amount       decimal.Decimal
}

// TransactionRecord is the store's canonical, indexer-agnostic form of an
// on-chain or mempool transaction. OurIns/OurOuts/OurAmount are left empty
// by the core; a downstream wallet-accounting component annotates them.
type TransactionRecord struct {
	Txid        string
	Hex         string
	BlockHeight uint32 // 0 == mempool
	BlockTime   int64
	Fees        decimal.Decimal

	Inputs  []TxInput
	Outputs []TxOutput

	OurIns    []int
	OurOuts   []int
	OurAmount decimal.Decimal
}

// IsConfirmed reports whether this record has been included in a block.
func (t *TransactionRecord) IsConfirmed() bool {
	return t != nil && t.BlockHeight > 0
}

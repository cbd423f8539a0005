// Package chain abstracts the Bitcoin/Runes indexer the mint queries to
// confirm deposits, select UTXOs, and broadcast withdrawals.
package chain

import "context"

// RuneBalance is one rune's balance observed on an output or address.
type RuneBalance struct {
	Name   string
	Amount string // base-10, Runes amounts are 128-bit
	Symbol string
}

type AddressOutputs struct {
	Outputs      []string // "txid:vout"
	RuneBalances []RuneBalance
}

type RuneContent struct {
	Amount string
	Id     string // "block:tx"
}

type OutputDetails struct {
	ValueSats int64
	Runes     map[string]RuneContent
}

type TransactionStatus struct {
	Confirmed   bool
	BlockHeight uint32
}

type OutspendStatus struct {
	Spent bool
	Txid  string
}

// View is every capability the mint's core needs from a chain indexer. All
// methods may fail with retriable errors; implementations are expected to
// retry transient failures internally (see httpview.go).
type View interface {
	AddressOutputs(ctx context.Context, address string) (AddressOutputs, error)
	OutputDetails(ctx context.Context, txid string, vout uint32) (OutputDetails, error)
	Transaction(ctx context.Context, txid string) (TransactionStatus, error)
	Outspend(ctx context.Context, txid string, vout uint32) (OutspendStatus, error)
	BlockHeight(ctx context.Context) (uint32, error)
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
	TxHex(ctx context.Context, txid string) (string, error)
}

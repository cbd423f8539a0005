// Package storage defines the persistence contract the mint runs against:
// keysets, spent proofs, mint/melt quotes and the reserve UTXO tracker.
package storage

import (
	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/cashu/nuts/nut04"
	"github.com/runecashu/mint/cashu/nuts/nut05"
	"github.com/runecashu/mint/cashu/nuts/nut07"
)

type MintDB interface {
	SaveSeed([]byte) error
	GetSeed() ([]byte, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(keysetId string, active bool) error

	// CheckSpent returns the subset of Ys whose stored state != UNSPENT.
	CheckSpent(Ys []string) (map[string]bool, error)
	// MarkSpent atomically inserts one spent-proof row per (proof, Y) under
	// transactionId. It fails with cashu.ProofAlreadyUsedErr if any Y is
	// already recorded.
	MarkSpent(proofs cashu.Proofs, Ys []string, transactionId string) error
	// CheckState returns the stored state and witness for each Y, defaulting
	// to UNSPENT for Ys with no row.
	CheckState(Ys []string) ([]nut07.ProofState, error)
	// DeleteByTransactionID removes every spent-proof row written under
	// transactionId, restoring those proofs to spendable. Returns the count
	// removed.
	DeleteByTransactionID(transactionId string) (int, error)

	SaveMintQuote(MintQuote) error
	GetMintQuote(id string) (MintQuote, error)
	UpdateMintQuoteState(quoteId string, state nut04.State) error
	// MarkMintQuotePaid transitions an UNPAID quote to PAID, recording the
	// confirmed deposit's outpoint and setting paid_at to now.
	MarkMintQuotePaid(quoteId string, depositTxid string, depositVout uint32) error
	// ListMintQuotesUnpaid returns up to limit UNPAID quotes with expiry >=
	// nowSec and created_at >= createdAfterMs, oldest first. Used by the
	// deposit monitor to bound its per-cycle work and ignore quotes that
	// can no longer be paid or are older than the configured max age.
	ListMintQuotesUnpaid(limit int, nowSec int64, createdAfterMs int64) ([]MintQuote, error)

	SaveMeltQuote(MeltQuote) error
	GetMeltQuote(id string) (MeltQuote, error)
	UpdateMeltQuote(quoteId string, txid string, state nut05.State) error

	AddUTXO(ReserveUTXO) error
	MarkUTXOSpent(txid string, vout uint32, spentInTxid string) error
	UnspentUTXOs(assetId string) ([]ReserveUTXO, error)
	// Balance returns the base-10 decimal sum of unspent rows for assetId.
	Balance(assetId string) (string, error)
	SpentKeys() (map[string]bool, error)
	SyncFromChain(utxos []ReserveUTXO) (int, error)

	Close() error
}

type DBKeyset struct {
	Id          string
	Unit        string
	AssetId     string
	Active      bool
	// EncryptedKeys maps denomination to the "iv_hex:ciphertext_hex" encoded
	// private scalar, per crypto.EncryptPrivateKey.
	EncryptedKeys map[uint64]string
	InputFeePpk   uint
	CreatedAt     int64
	FinalExpiry   *int64
}

type MintQuote struct {
	Id             string
	Amount         uint64
	Unit           string
	AssetId        string
	DepositAddress string
	State          nut04.State
	Expiry         int64
	CreatedAt      int64
	PaidAt         int64
	DepositTxid    string
	DepositVout    uint32
}

type MeltQuote struct {
	Id          string
	Amount      uint64
	FeeReserve  uint64
	Unit        string
	AssetId     string
	Destination string
	State       nut05.State
	Expiry      int64
	CreatedAt   int64
	PaidAt      int64
	Txid        string
	FeePaid     uint64
}

// ReserveUTXO is a mint-owned output holding the custodied rune, keyed by
// (txid, vout). Amount is the rune balance on this output, stored as a
// base-10 string since Runes amounts are 128-bit and don't fit uint64.
type ReserveUTXO struct {
	Txid        string
	Vout        uint32
	AssetId     string
	Amount      string
	Address     string
	SatValue    int64
	Spent       bool
	SpentInTxid string
	CreatedAt   int64
}

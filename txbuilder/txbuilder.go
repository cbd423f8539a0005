// Package txbuilder selects mint-owned UTXOs, assembles the fixed-shape
// withdrawal PSBT, signs it with the mint's derived keys, and broadcasts it
// through a chain view.
package txbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/chain"
	"github.com/runecashu/mint/runestone"
)

// WithdrawalRequest is everything a withdrawal needs beyond the mint's own
// signing keys.
type WithdrawalRequest struct {
	AssetId         string
	RuneId          runestone.RuneId
	RequestedAmount uint64 // rune units requested, fits the ecash uint64 range

	RuneUTXOAddress      string // mint's taproot reserve address
	FeeUTXOAddress       string // mint's segwit fee address
	RecipientAddress     string
	TaprootReturnAddress string

	SpentKeys map[string]bool
}

// Result is the outcome of a successful broadcast withdrawal.
type Result struct {
	Txid        string
	RuneInputs  []SelectedUTXO
	FeeInput    SelectedUTXO
	ChangeAdded bool
}

// Builder ties together UTXO selection, PSBT construction, signing, and
// broadcast for the withdrawal path.
type Builder struct {
	view   chain.View
	keys   *Keys
	params *chaincfg.Params
	logger *slog.Logger
}

func NewBuilder(view chain.View, keys *Keys, params *chaincfg.Params, logger *slog.Logger) *Builder {
	return &Builder{view: view, keys: keys, params: params, logger: logger}
}

// BuildAndBroadcast selects rune and fee UTXOs, builds and signs the
// withdrawal transaction, and broadcasts it. It returns cashu.BroadcastMismatchErr
// if the chain view reports back a different txid than the one locally
// computed, which must be treated as a security event by the caller: the
// transaction may or may not have been accepted by the network.
func (b *Builder) BuildAndBroadcast(ctx context.Context, req WithdrawalRequest) (*Result, error) {
	target := new(big.Int).SetUint64(req.RequestedAmount)

	runeInputs, err := SelectRuneUTXOs(ctx, b.view, req.RuneUTXOAddress, req.AssetId, target, req.SpentKeys)
	if err != nil {
		return nil, err
	}

	feeInput, err := SelectFeeUTXO(ctx, b.view, req.FeeUTXOAddress)
	if err != nil {
		return nil, err
	}

	plan := WithdrawalPlan{
		FeeInput:             feeInput,
		RuneInputs:           runeInputs,
		RecipientAddress:     req.RecipientAddress,
		TaprootReturnAddress: req.TaprootReturnAddress,
		ChangeAddress:        req.FeeUTXOAddress,
		RuneId:               req.RuneId,
		RequestedAmount:      req.RequestedAmount,
		Params:               b.params,
	}

	built, err := Build(plan)
	if err != nil {
		return nil, err
	}

	finalTx, localTxid, err := Sign(built, b.keys, b.logger)
	if err != nil {
		return nil, err
	}

	rawHex, err := SerializeHex(finalTx)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: serializing final transaction: %w", err)
	}

	broadcastTxid, err := b.view.Broadcast(ctx, rawHex)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: broadcasting: %w", err)
	}

	if broadcastTxid != localTxid {
		return nil, cashu.BroadcastMismatchErr
	}

	return &Result{
		Txid:        localTxid,
		RuneInputs:  runeInputs,
		FeeInput:    feeInput,
		ChangeAdded: built.ChangeAdded,
	}, nil
}

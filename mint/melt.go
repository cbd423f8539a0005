package mint

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/cashu/nuts/nut05"
	"github.com/runecashu/mint/mint/storage"
	"github.com/runecashu/mint/runestone"
	"github.com/runecashu/mint/txbuilder"
)

// CreateMeltQuote validates a withdrawal request and opens an UNPAID melt
// quote. The fee reserve is always 0: the mint absorbs the fixed on-chain
// fee itself out of its own fee UTXO rather than passing it on to the
// withdrawing client.
func (m *Mint) CreateMeltQuote(amount uint64, unit string, assetId string, destination string) (storage.MeltQuote, error) {
	if unit != m.unit || assetId != m.assetId {
		return storage.MeltQuote{}, cashu.UnitNotSupportedErr
	}
	if amount < m.limits.MinMelt || (m.limits.MaxMelt > 0 && amount > m.limits.MaxMelt) {
		return storage.MeltQuote{}, cashu.AmountOutOfRangeErr
	}
	if _, err := btcutil.DecodeAddress(destination, m.params); err != nil {
		return storage.MeltQuote{}, cashu.InvalidDestinationErr
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		m.logErrorf("generating melt quote id: %v", err)
		return storage.MeltQuote{}, cashu.StandardErr
	}

	now := time.Now()
	quote := storage.MeltQuote{
		Id:          quoteId,
		Amount:      amount,
		FeeReserve:  0,
		Unit:        unit,
		AssetId:     assetId,
		Destination: destination,
		State:       nut05.Unpaid,
		Expiry:      now.Unix() + MeltQuoteExpirySecs,
		CreatedAt:   now.UnixMilli(),
	}

	if err := m.db.SaveMeltQuote(quote); err != nil {
		m.logErrorf("saving melt quote: %v", err)
		return storage.MeltQuote{}, cashu.StandardErr
	}

	return quote, nil
}

func (m *Mint) GetMeltQuoteState(quoteId string) (storage.MeltQuote, error) {
	return m.db.GetMeltQuote(quoteId)
}

// MeltTokens spends inputs against a melt quote and withdraws the quote's
// rune amount to its destination address. The quote is marked PENDING before
// broadcast and reverted to UNPAID (with the tentatively spent inputs
// restored) on any failure that is known not to have reached the network.
// A cashu.BroadcastMismatchErr is a different case entirely: the mint cannot
// tell whether the transaction confirmed, so the quote is left PENDING and
// the proofs stay spent pending manual reconciliation.
func (m *Mint) MeltTokens(ctx context.Context, quoteId string, inputs cashu.Proofs) (storage.MeltQuote, error) {
	quote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		return storage.MeltQuote{}, err
	}
	switch quote.State {
	case nut05.Paid:
		return storage.MeltQuote{}, cashu.MeltQuoteAlreadyPaidErr
	case nut05.Pending:
		return storage.MeltQuote{}, cashu.MeltQuotePendingErr
	}
	if time.Now().Unix() > quote.Expiry {
		return storage.MeltQuote{}, cashu.MeltQuoteExpiredErr
	}

	if len(inputs) == 0 {
		return storage.MeltQuote{}, cashu.NoProofsProvidedErr
	}
	if cashu.CheckDuplicateProofs(inputs) {
		return storage.MeltQuote{}, cashu.DuplicateProofsErr
	}

	inAmount, err := inputs.AmountChecked()
	if err != nil {
		return storage.MeltQuote{}, cashu.AmountOverflowErr
	}
	if inAmount < quote.Amount {
		return storage.MeltQuote{}, cashu.InsufficientProofsAmount
	}

	if err := m.verifyProofs(inputs); err != nil {
		return storage.MeltQuote{}, err
	}

	Ys := yValues(inputs)
	spent, err := m.db.CheckSpent(Ys)
	if err != nil {
		m.logErrorf("checking spent state for melt: %v", err)
		return storage.MeltQuote{}, cashu.StandardErr
	}
	for _, y := range Ys {
		if spent[y] {
			return storage.MeltQuote{}, cashu.ProofAlreadyUsedErr
		}
	}

	transactionId := fmt.Sprintf("melt_%s_%d", quote.Id, time.Now().UnixMilli())
	if err := m.db.MarkSpent(inputs, Ys, transactionId); err != nil {
		return storage.MeltQuote{}, err
	}

	if err := m.db.UpdateMeltQuote(quote.Id, "", nut05.Pending); err != nil {
		m.logErrorf("marking melt quote %s pending: %v", quote.Id, err)
	}
	quote.State = nut05.Pending

	runeId, err := runestone.ParseRuneId(quote.AssetId)
	if err != nil {
		m.revertMelt(quote.Id, transactionId)
		return storage.MeltQuote{}, cashu.WithdrawalFailedErr
	}

	spentKeys, err := m.reserve.SpentKeys()
	if err != nil {
		m.revertMelt(quote.Id, transactionId)
		return storage.MeltQuote{}, cashu.WithdrawalFailedErr
	}

	result, err := m.builder.BuildAndBroadcast(ctx, txbuilder.WithdrawalRequest{
		AssetId:              quote.AssetId,
		RuneId:               runeId,
		RequestedAmount:      quote.Amount,
		RuneUTXOAddress:      m.taprootAddress,
		FeeUTXOAddress:       m.feeAddress,
		RecipientAddress:     quote.Destination,
		TaprootReturnAddress: m.taprootAddress,
		SpentKeys:            spentKeys,
	})
	if err != nil {
		if err == cashu.BroadcastMismatchErr {
			m.logErrorf("security: broadcast txid mismatch for melt quote %s, leaving PENDING for manual review", quote.Id)
			return storage.MeltQuote{}, cashu.BroadcastMismatchErr
		}
		m.logErrorf("withdrawal failed for melt quote %s: %v", quote.Id, err)
		m.revertMelt(quote.Id, transactionId)
		return storage.MeltQuote{}, cashu.WithdrawalFailedErr
	}

	for _, utxo := range result.RuneInputs {
		if err := m.reserve.MarkSpent(utxo.Txid, utxo.Vout, result.Txid); err != nil {
			m.logErrorf("marking reserve utxo %s:%d spent after melt %s: %v", utxo.Txid, utxo.Vout, quote.Id, err)
		}
	}

	if err := m.db.UpdateMeltQuote(quote.Id, result.Txid, nut05.Paid); err != nil {
		m.logErrorf("marking melt quote %s paid: %v", quote.Id, err)
		return storage.MeltQuote{}, cashu.StandardErr
	}
	quote.State = nut05.Paid
	quote.Txid = result.Txid
	quote.PaidAt = time.Now().Unix()

	m.logInfof("melt quote %s paid via %s", quote.Id, result.Txid)
	return quote, nil
}

// revertMelt undoes a tentative spend: the inputs return to spendable and
// the quote returns to UNPAID, so the client can safely retry.
func (m *Mint) revertMelt(quoteId string, transactionId string) {
	if _, err := m.db.DeleteByTransactionID(transactionId); err != nil {
		m.logErrorf("reverting spent proofs for melt %s: %v", transactionId, err)
	}
	if err := m.db.UpdateMeltQuote(quoteId, "", nut05.Unpaid); err != nil {
		m.logErrorf("reverting melt quote %s to unpaid: %v", quoteId, err)
	}
}

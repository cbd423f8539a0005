package mint

import (
	"context"
	"fmt"
	"testing"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/chain"
)

func depositOutput(view *chain.FakeView, address, assetId, amount string, vout uint32, height uint32) string {
	txid := fakeTxid(byte(height + 1))
	ref := fmt.Sprintf("%s:%d", txid, vout)

	existing := view.Outputs[address]
	existing.Outputs = append(existing.Outputs, ref)
	view.Outputs[address] = existing

	view.Txs[txid] = chain.TransactionStatus{Confirmed: true, BlockHeight: height}
	view.Details[ref] = chain.OutputDetails{
		ValueSats: 100000,
		Runes:     map[string]chain.RuneContent{assetId: {Amount: amount, Id: "840000:3"}},
	}
	return txid
}

func TestCreateMintQuoteValidatesUnitAndAmount(t *testing.T) {
	m, _ := newTestMint(t)

	if _, err := m.CreateMintQuote(100, "sat", testAssetId); err != cashu.UnitNotSupportedErr {
		t.Fatalf("wrong unit: got %v", err)
	}
	if _, err := m.CreateMintQuote(100, testUnit, "840000:99"); err != cashu.UnitNotSupportedErr {
		t.Fatalf("wrong asset: got %v", err)
	}
	if _, err := m.CreateMintQuote(1<<24, testUnit, testAssetId); err != cashu.AmountOutOfRangeErr {
		t.Fatalf("over max: got %v", err)
	}

	quote, err := m.CreateMintQuote(1000, testUnit, testAssetId)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}
	if quote.DepositAddress != m.taprootAddress {
		t.Fatalf("deposit address = %s, want %s", quote.DepositAddress, m.taprootAddress)
	}
}

func TestGetMintQuoteStatePromotesOnConfirmedDeposit(t *testing.T) {
	m, view := newTestMint(t)

	quote, err := m.CreateMintQuote(1000, testUnit, testAssetId)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}

	depositOutput(view, quote.DepositAddress, testAssetId, "1000", 0, 10)
	view.Height = 10

	got, err := m.GetMintQuoteState(context.Background(), quote.Id)
	if err != nil {
		t.Fatalf("GetMintQuoteState: %v", err)
	}
	if got.State.String() != "PAID" {
		t.Fatalf("state = %v, want PAID", got.State)
	}
}

func TestMintTokensRoundTrip(t *testing.T) {
	m, view := newTestMint(t)

	quote, err := m.CreateMintQuote(1000, testUnit, testAssetId)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}

	depositOutput(view, quote.DepositAddress, testAssetId, "1000", 0, 10)
	view.Height = 10 // exactly 1 confirmation, meets mintConfirmations=1

	tokens, outputs := newTestOutputs(t, m, 512, 256, 128, 64, 32, 8)
	signatures, err := m.MintTokens(context.Background(), quote.Id, outputs)
	if err != nil {
		t.Fatalf("MintTokens: %v", err)
	}
	if len(signatures) != len(outputs) {
		t.Fatalf("got %d signatures, want %d", len(signatures), len(outputs))
	}
	for _, sig := range signatures {
		if sig.DLEQ == nil {
			t.Fatalf("signature missing DLEQ proof")
		}
	}

	proofs := unblindProofs(t, m, tokens, signatures)
	if err := m.verifyProofs(proofs); err != nil {
		t.Fatalf("minted proofs failed verification: %v", err)
	}

	if _, err := m.MintTokens(context.Background(), quote.Id, outputs); err != cashu.MintQuoteAlreadyIssuedErr {
		t.Fatalf("re-issuing: got %v, want MintQuoteAlreadyIssuedErr", err)
	}
}

func TestMintTokensRejectsUnconfirmedDeposit(t *testing.T) {
	m, view := newTestMint(t)

	quote, err := m.CreateMintQuote(1000, testUnit, testAssetId)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}

	depositOutput(view, quote.DepositAddress, testAssetId, "1000", 0, 10)
	view.Height = 9 // 0 confirmations, below mintConfirmations=1

	_, outputs := newTestOutputs(t, m, 1000)
	if _, err := m.MintTokens(context.Background(), quote.Id, outputs); err != cashu.InsufficientConfsErr {
		t.Fatalf("got %v, want InsufficientConfsErr", err)
	}
}

func TestMintTokensRejectsWrongAmountDeposit(t *testing.T) {
	m, view := newTestMint(t)

	quote, err := m.CreateMintQuote(1000, testUnit, testAssetId)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}

	depositOutput(view, quote.DepositAddress, testAssetId, "500", 0, 10)
	view.Height = 10

	_, outputs := newTestOutputs(t, m, 1000)
	if _, err := m.MintTokens(context.Background(), quote.Id, outputs); err != cashu.AmountMismatchErr {
		t.Fatalf("got %v, want AmountMismatchErr", err)
	}
}

func TestMintTokensRejectsOutputsNotMatchingQuoteAmount(t *testing.T) {
	m, view := newTestMint(t)

	quote, err := m.CreateMintQuote(1000, testUnit, testAssetId)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}

	depositOutput(view, quote.DepositAddress, testAssetId, "1000", 0, 10)
	view.Height = 10

	_, outputs := newTestOutputs(t, m, 500)
	if _, err := m.MintTokens(context.Background(), quote.Id, outputs); err != cashu.OutputsOverQuoteAmountErr {
		t.Fatalf("got %v, want OutputsOverQuoteAmountErr", err)
	}
}

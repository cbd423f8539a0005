package txbuilder

import (
	"context"
	"math/big"
	"testing"

	"github.com/runecashu/mint/chain"
)

func TestSelectRuneUTXOsAccumulatesUntilTarget(t *testing.T) {
	view := chain.NewFakeView()
	view.Outputs["addr1"] = chain.AddressOutputs{Outputs: []string{"tx1:0", "tx2:0", "tx3:0"}}
	view.Details["tx1:0"] = chain.OutputDetails{ValueSats: 10000, Runes: map[string]chain.RuneContent{"1:1": {Amount: "5"}}}
	view.Details["tx2:0"] = chain.OutputDetails{ValueSats: 10000, Runes: map[string]chain.RuneContent{"1:1": {Amount: "10"}}}
	view.Details["tx3:0"] = chain.OutputDetails{ValueSats: 10000, Runes: map[string]chain.RuneContent{"1:1": {Amount: "100"}}}

	selected, err := SelectRuneUTXOs(context.Background(), view, "addr1", "1:1", big.NewInt(12), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected to stop after 2 outputs (5+10=15>=12), got %d", len(selected))
	}
}

func TestSelectRuneUTXOsSkipsSpent(t *testing.T) {
	view := chain.NewFakeView()
	view.Outputs["addr1"] = chain.AddressOutputs{Outputs: []string{"tx1:0", "tx2:0"}}
	view.Details["tx1:0"] = chain.OutputDetails{ValueSats: 10000, Runes: map[string]chain.RuneContent{"1:1": {Amount: "100"}}}
	view.Details["tx2:0"] = chain.OutputDetails{ValueSats: 10000, Runes: map[string]chain.RuneContent{"1:1": {Amount: "100"}}}

	selected, err := SelectRuneUTXOs(context.Background(), view, "addr1", "1:1", big.NewInt(50), map[string]bool{"tx1:0": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 1 || selected[0].Txid != "tx2" {
		t.Fatalf("expected only tx2 selected, got %+v", selected)
	}
}

func TestSelectRuneUTXOsSkipsOnChainSpent(t *testing.T) {
	view := chain.NewFakeView()
	view.Outputs["addr1"] = chain.AddressOutputs{Outputs: []string{"tx1:0", "tx2:0"}}
	view.Details["tx1:0"] = chain.OutputDetails{ValueSats: 10000, Runes: map[string]chain.RuneContent{"1:1": {Amount: "100"}}}
	view.Details["tx2:0"] = chain.OutputDetails{ValueSats: 10000, Runes: map[string]chain.RuneContent{"1:1": {Amount: "100"}}}
	view.Outspends["tx1:0"] = chain.OutspendStatus{Spent: true}

	selected, err := SelectRuneUTXOs(context.Background(), view, "addr1", "1:1", big.NewInt(50), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 1 || selected[0].Txid != "tx2" {
		t.Fatalf("expected only tx2 selected, got %+v", selected)
	}
}

func TestSelectRuneUTXOsInsufficientFunds(t *testing.T) {
	view := chain.NewFakeView()
	view.Outputs["addr1"] = chain.AddressOutputs{Outputs: []string{"tx1:0"}}
	view.Details["tx1:0"] = chain.OutputDetails{ValueSats: 10000, Runes: map[string]chain.RuneContent{"1:1": {Amount: "5"}}}

	_, err := SelectRuneUTXOs(context.Background(), view, "addr1", "1:1", big.NewInt(100), nil)
	if err == nil {
		t.Fatal("expected InsufficientFundsErr")
	}
}

func TestSelectFeeUTXOPicksFirstAboveMinimum(t *testing.T) {
	view := chain.NewFakeView()
	view.Outputs["fees"] = chain.AddressOutputs{Outputs: []string{"tx1:0", "tx2:0"}}
	view.Details["tx1:0"] = chain.OutputDetails{ValueSats: 1000}
	view.Details["tx2:0"] = chain.OutputDetails{ValueSats: 20000}

	utxo, err := SelectFeeUTXO(context.Background(), view, "fees")
	if err != nil {
		t.Fatal(err)
	}
	if utxo.Txid != "tx2" {
		t.Fatalf("expected tx2 (first UTXO above min), got %s", utxo.Txid)
	}
}


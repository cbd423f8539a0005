package txbuilder

import (
	"context"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/runecashu/mint/chain"
	"github.com/runecashu/mint/runestone"
)

func testKeys(t *testing.T) *Keys {
	t.Helper()
	segwit, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	taproot, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return &Keys{SegWit: segwit, Taproot: taproot}
}

func segwitAddress(t *testing.T, keys *Keys, params *chaincfg.Params) string {
	t.Helper()
	hash := btcutil.Hash160(keys.SegWit.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, params)
	if err != nil {
		t.Fatal(err)
	}
	return addr.EncodeAddress()
}

func taprootAddress(t *testing.T, keys *Keys, params *chaincfg.Params) string {
	t.Helper()
	outputKey := txscript.ComputeTaprootKeyNoScript(keys.Taproot.PubKey())
	addr, err := btcutil.NewAddressTaproot(outputKey.SerializeCompressed()[1:], params)
	if err != nil {
		t.Fatal(err)
	}
	return addr.EncodeAddress()
}

func TestBuildAndSignWithdrawal(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	keys := testKeys(t)

	feeAddr := segwitAddress(t, keys, params)
	runeAddr := taprootAddress(t, keys, params)
	recipientAddr := feeAddr
	returnAddr := runeAddr

	view := chain.NewFakeView()
	view.Outputs[feeAddr] = chain.AddressOutputs{Outputs: []string{"aa11:0"}}
	view.Details["aa11:0"] = chain.OutputDetails{ValueSats: 20000}

	view.Outputs[runeAddr] = chain.AddressOutputs{Outputs: []string{"bb22:1"}}
	view.Details["bb22:1"] = chain.OutputDetails{
		ValueSats: 10000,
		Runes:     map[string]chain.RuneContent{"100:5": {Amount: "500"}},
	}

	builder := NewBuilder(view, keys, params, nil)

	req := WithdrawalRequest{
		AssetId:              "100:5",
		RuneId:               runestone.RuneId{Block: 100, Tx: 5},
		RequestedAmount:      200,
		RuneUTXOAddress:      runeAddr,
		FeeUTXOAddress:       feeAddr,
		RecipientAddress:     recipientAddr,
		TaprootReturnAddress: returnAddr,
	}

	// Build first without broadcasting to learn the locally computed txid,
	// since FakeView.Broadcast always returns whatever NextTxid is set to.
	target := new(big.Int).SetUint64(req.RequestedAmount)
	runeInputs, err := SelectRuneUTXOs(context.Background(), view, runeAddr, req.AssetId, target, nil)
	if err != nil {
		t.Fatal(err)
	}
	feeInput, err := SelectFeeUTXO(context.Background(), view, feeAddr)
	if err != nil {
		t.Fatal(err)
	}
	plan := WithdrawalPlan{
		FeeInput:             feeInput,
		RuneInputs:           runeInputs,
		RecipientAddress:     recipientAddr,
		TaprootReturnAddress: returnAddr,
		ChangeAddress:        feeAddr,
		RuneId:               req.RuneId,
		RequestedAmount:      req.RequestedAmount,
		Params:               params,
	}
	built, err := Build(plan)
	if err != nil {
		t.Fatal(err)
	}
	finalTx, localTxid, err := Sign(built, keys, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(finalTx.TxOut) < 3 {
		t.Fatalf("expected at least 3 outputs, got %d", len(finalTx.TxOut))
	}
	last := finalTx.TxOut[len(finalTx.TxOut)-1]
	if last.PkScript[0] != 0x6a || last.PkScript[1] != 0x5d {
		t.Fatalf("final output is not an OP_RETURN runestone: %x", last.PkScript)
	}

	view.NextTxid = localTxid
	result, err := builder.BuildAndBroadcast(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.Txid != localTxid {
		t.Fatalf("got txid %s, want %s", result.Txid, localTxid)
	}
	if len(view.Broadcasts) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", len(view.Broadcasts))
	}
}

func TestBuildAndBroadcastRejectsTxidMismatch(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	keys := testKeys(t)
	feeAddr := segwitAddress(t, keys, params)
	runeAddr := taprootAddress(t, keys, params)

	view := chain.NewFakeView()
	view.Outputs[feeAddr] = chain.AddressOutputs{Outputs: []string{"aa11:0"}}
	view.Details["aa11:0"] = chain.OutputDetails{ValueSats: 20000}
	view.Outputs[runeAddr] = chain.AddressOutputs{Outputs: []string{"bb22:1"}}
	view.Details["bb22:1"] = chain.OutputDetails{
		ValueSats: 10000,
		Runes:     map[string]chain.RuneContent{"100:5": {Amount: "500"}},
	}
	view.NextTxid = "0000000000000000000000000000000000000000000000000000000000000000"

	builder := NewBuilder(view, keys, params, nil)
	req := WithdrawalRequest{
		AssetId:              "100:5",
		RuneId:               runestone.RuneId{Block: 100, Tx: 5},
		RequestedAmount:      200,
		RuneUTXOAddress:      runeAddr,
		FeeUTXOAddress:       feeAddr,
		RecipientAddress:     feeAddr,
		TaprootReturnAddress: runeAddr,
	}

	_, err := builder.BuildAndBroadcast(context.Background(), req)
	if err == nil {
		t.Fatal("expected BroadcastMismatchErr")
	}
}

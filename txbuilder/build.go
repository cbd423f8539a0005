package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/runecashu/mint/runestone"
)

// Fixed sat amounts for every withdrawal transaction the mint builds. Fee
// estimation is out of scope: the mint always pays exactly FeeSats to
// miners.
const (
	FeeSats        = 1000
	RecipientSats  = 10000
	RuneReturnSats = 10000
	DustLimit      = 546
)

// WithdrawalPlan is the concrete set of inputs/outputs for one withdrawal,
// ready to be assembled into a PSBT.
type WithdrawalPlan struct {
	FeeInput   SelectedUTXO
	RuneInputs []SelectedUTXO

	RecipientAddress     string
	TaprootReturnAddress string
	ChangeAddress        string // only used if change is above dust

	RuneId          runestone.RuneId
	RequestedAmount uint64

	Params *chaincfg.Params
}

// BuiltPSBT is an unsigned packet plus the prevout script/value for every
// input, which the signer needs to compute sighashes.
type BuiltPSBT struct {
	Packet      *psbt.Packet
	PrevOuts    []*wire.TxOut // parallel to Packet.UnsignedTx.TxIn
	ChangeAdded bool
}

// Build assembles the fixed-shape withdrawal PSBT described by plan: input 0
// is the SegWit fee UTXO, inputs 1..N are the selected Taproot rune UTXOs;
// outputs are the taproot return, the recipient, an optional SegWit change,
// and a trailing OP_RETURN runestone edicting RequestedAmount to output 1.
func Build(plan WithdrawalPlan) (*BuiltPSBT, error) {
	tx := wire.NewMsgTx(2)

	feeOutpoint, err := outPoint(plan.FeeInput)
	if err != nil {
		return nil, err
	}
	tx.AddTxIn(wire.NewTxIn(feeOutpoint, nil, nil))

	feeScript, err := addrScript(plan.FeeInput.Address, plan.Params)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: fee input address: %w", err)
	}
	var prevOuts []*wire.TxOut
	prevOuts = append(prevOuts, &wire.TxOut{Value: plan.FeeInput.SatValue, PkScript: feeScript})

	totalInputSats := plan.FeeInput.SatValue
	for _, utxo := range plan.RuneInputs {
		op, err := outPoint(utxo)
		if err != nil {
			return nil, err
		}
		runeScript, err := addrScript(utxo.Address, plan.Params)
		if err != nil {
			return nil, fmt.Errorf("txbuilder: rune input address: %w", err)
		}
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		prevOuts = append(prevOuts, &wire.TxOut{Value: utxo.SatValue, PkScript: runeScript})
		totalInputSats += utxo.SatValue
	}

	returnScript, err := addrScript(plan.TaprootReturnAddress, plan.Params)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: taproot return address: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(RuneReturnSats, returnScript))

	recipientScript, err := addrScript(plan.RecipientAddress, plan.Params)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: recipient address: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(RecipientSats, recipientScript))

	change := totalInputSats - RuneReturnSats - RecipientSats - FeeSats
	changeAdded := false
	if change >= DustLimit {
		changeScript, err := addrScript(plan.ChangeAddress, plan.Params)
		if err != nil {
			return nil, fmt.Errorf("txbuilder: change address: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
		changeAdded = true
	}

	runeScript, err := runestone.Encode([]runestone.Edict{
		{Id: plan.RuneId, Amount: plan.RequestedAmount, Output: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("txbuilder: encoding runestone: %w", err)
	}
	if len(runeScript) < 2 || runeScript[0] != 0x6a || runeScript[1] != 0x5d {
		return nil, fmt.Errorf("txbuilder: runestone script missing OP_RETURN OP_13 prefix")
	}
	tx.AddTxOut(wire.NewTxOut(0, runeScript))

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: building psbt: %w", err)
	}

	for i, out := range prevOuts {
		packet.Inputs[i].WitnessUtxo = out
	}

	return &BuiltPSBT{Packet: packet, PrevOuts: prevOuts, ChangeAdded: changeAdded}, nil
}

func outPoint(utxo SelectedUTXO) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(utxo.Txid)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: invalid txid %q: %w", utxo.Txid, err)
	}
	return wire.NewOutPoint(hash, utxo.Vout), nil
}

func addrScript(address string, params *chaincfg.Params) ([]byte, error) {
	if address == "" {
		return nil, fmt.Errorf("txbuilder: empty address")
	}
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

package txbuilder

import (
	"context"
	"math/big"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/chain"
)

// SelectedUTXO is one chain-view output chosen to fund a withdrawal.
type SelectedUTXO struct {
	Txid     string
	Vout     uint32
	SatValue int64
	Address  string
	Amount   string // base-10 rune amount, only set for rune inputs
}

// MinFeeUTXOValue is the minimum confirmed value a fee-paying UTXO must hold.
const MinFeeUTXOValue = 12000

// SelectRuneUTXOs walks the address's outputs in the chain view's natural
// order, skipping anything in spentKeys or already spent on-chain, and
// accumulates rune-bearing outputs until the cumulative amount reaches
// target. It returns cashu.InsufficientFundsErr if the address runs dry
// first.
func SelectRuneUTXOs(ctx context.Context, view chain.View, address string, assetId string, target *big.Int, spentKeys map[string]bool) ([]SelectedUTXO, error) {
	outputs, err := view.AddressOutputs(ctx, address)
	if err != nil {
		return nil, err
	}

	var selected []SelectedUTXO
	accumulated := new(big.Int)

	for _, ref := range outputs.Outputs {
		txid, vout, err := splitOutpoint(ref)
		if err != nil {
			continue
		}
		if spentKeys[ref] {
			continue
		}

		outspend, err := view.Outspend(ctx, txid, vout)
		if err != nil {
			continue
		}
		if outspend.Spent {
			continue
		}

		details, err := view.OutputDetails(ctx, txid, vout)
		if err != nil {
			continue
		}
		content, ok := details.Runes[assetId]
		if !ok {
			continue
		}

		amount, ok := new(big.Int).SetString(content.Amount, 10)
		if !ok {
			continue
		}

		selected = append(selected, SelectedUTXO{
			Txid:     txid,
			Vout:     vout,
			SatValue: details.ValueSats,
			Address:  address,
			Amount:   content.Amount,
		})
		accumulated.Add(accumulated, amount)

		if accumulated.Cmp(target) >= 0 {
			return selected, nil
		}
	}

	return nil, cashu.InsufficientFundsErr
}

// SelectFeeUTXO picks the first confirmed output at address whose value is
// at least MinFeeUTXOValue sats.
func SelectFeeUTXO(ctx context.Context, view chain.View, address string) (SelectedUTXO, error) {
	outputs, err := view.AddressOutputs(ctx, address)
	if err != nil {
		return SelectedUTXO{}, err
	}

	for _, ref := range outputs.Outputs {
		txid, vout, err := splitOutpoint(ref)
		if err != nil {
			continue
		}

		outspend, err := view.Outspend(ctx, txid, vout)
		if err != nil || outspend.Spent {
			continue
		}

		status, err := view.Transaction(ctx, txid)
		if err != nil || !status.Confirmed {
			continue
		}

		details, err := view.OutputDetails(ctx, txid, vout)
		if err != nil {
			continue
		}
		if details.ValueSats < MinFeeUTXOValue {
			continue
		}

		return SelectedUTXO{Txid: txid, Vout: vout, SatValue: details.ValueSats, Address: address}, nil
	}

	return SelectedUTXO{}, cashu.InsufficientFundsErr
}

func splitOutpoint(ref string) (txid string, vout uint32, err error) {
	i := len(ref) - 1
	for i >= 0 && ref[i] != ':' {
		i--
	}
	if i < 0 {
		return "", 0, cashu.InvalidProofErr
	}
	v, err := parseUint(ref[i+1:])
	if err != nil {
		return "", 0, err
	}
	return ref[:i], uint32(v), nil
}

func parseUint(s string) (uint64, error) {
	var v uint64
	if len(s) == 0 {
		return 0, cashu.InvalidProofErr
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, cashu.InvalidProofErr
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}

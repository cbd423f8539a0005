// Package reserve tracks the mint-owned rune UTXOs backing issued ecash.
package reserve

import (
	"context"
	"fmt"

	"github.com/runecashu/mint/chain"
	"github.com/runecashu/mint/mint/storage"
)

// Tracker is a persistent per-UTXO record of mint-owned rune outputs. It
// owns the reserve_utxos table exclusively; no other component writes those
// rows.
type Tracker struct {
	db storage.MintDB
}

func NewTracker(db storage.MintDB) *Tracker {
	return &Tracker{db: db}
}

func (t *Tracker) AddUTXO(utxo storage.ReserveUTXO) error {
	return t.db.AddUTXO(utxo)
}

func (t *Tracker) MarkSpent(txid string, vout uint32, spentInTxid string) error {
	return t.db.MarkUTXOSpent(txid, vout, spentInTxid)
}

func (t *Tracker) Unspent(assetId string) ([]storage.ReserveUTXO, error) {
	return t.db.UnspentUTXOs(assetId)
}

func (t *Tracker) Balance(assetId string) (string, error) {
	return t.db.Balance(assetId)
}

// SpentKeys returns "txid:vout" for every spent=true row, used by the UTXO
// selector to exclude outputs that were already consumed.
func (t *Tracker) SpentKeys() (map[string]bool, error) {
	return t.db.SpentKeys()
}

// SyncFromChain reconciles the tracker with the chain view's current view of
// the mint's taproot address: for every output holding the asset, insert it
// if absent. Existing rows are never updated.
func (t *Tracker) SyncFromChain(ctx context.Context, view chain.View, address string, assetId string, now int64) (int, error) {
	outputs, err := view.AddressOutputs(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("reserve: fetching address outputs: %w", err)
	}

	var utxos []storage.ReserveUTXO
	for _, ref := range outputs.Outputs {
		txid, vout, err := splitOutpoint(ref)
		if err != nil {
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

		utxos = append(utxos, storage.ReserveUTXO{
			Txid:      txid,
			Vout:      vout,
			AssetId:   assetId,
			Amount:    content.Amount,
			Address:   address,
			SatValue:  details.ValueSats,
			CreatedAt: now,
		})
	}

	return t.db.SyncFromChain(utxos)
}

func splitOutpoint(ref string) (txid string, vout uint32, err error) {
	i := len(ref) - 1
	for i >= 0 && ref[i] != ':' {
		i--
	}
	if i < 0 {
		return "", 0, fmt.Errorf("reserve: malformed outpoint %q", ref)
	}
	txid = ref[:i]
	var v uint64
	if _, err := fmt.Sscanf(ref[i+1:], "%d", &v); err != nil {
		return "", 0, fmt.Errorf("reserve: malformed outpoint %q: %w", ref, err)
	}
	return txid, uint32(v), nil
}

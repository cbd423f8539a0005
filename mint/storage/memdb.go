package storage

import (
	"database/sql"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/cashu/nuts/nut04"
	"github.com/runecashu/mint/cashu/nuts/nut05"
	"github.com/runecashu/mint/cashu/nuts/nut07"
)

// MemDB is an in-memory MintDB for tests, mirroring the shape of the chain
// package's FakeView test double.
type MemDB struct {
	mu sync.Mutex

	seed []byte

	keysets map[string]DBKeyset

	spentProofs map[string]spentProofRow // Y -> row

	mintQuotes map[string]MintQuote
	meltQuotes map[string]MeltQuote

	utxos map[string]ReserveUTXO // "txid:vout" -> utxo
}

type spentProofRow struct {
	transactionId string
}

func NewMemDB() *MemDB {
	return &MemDB{
		keysets:     make(map[string]DBKeyset),
		spentProofs: make(map[string]spentProofRow),
		mintQuotes:  make(map[string]MintQuote),
		meltQuotes:  make(map[string]MeltQuote),
		utxos:       make(map[string]ReserveUTXO),
	}
}

func (d *MemDB) Close() error { return nil }

func (d *MemDB) SaveSeed(seed []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seed != nil {
		return fmt.Errorf("memdb: seed already saved")
	}
	d.seed = append([]byte(nil), seed...)
	return nil
}

func (d *MemDB) GetSeed() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seed == nil {
		return nil, sql.ErrNoRows
	}
	return append([]byte(nil), d.seed...), nil
}

func (d *MemDB) SaveKeyset(ks DBKeyset) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.keysets[ks.Id]; exists {
		return fmt.Errorf("UNIQUE constraint failed: keysets.id")
	}
	d.keysets[ks.Id] = ks
	return nil
}

func (d *MemDB) GetKeysets() ([]DBKeyset, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := make([]DBKeyset, 0, len(d.keysets))
	for _, ks := range d.keysets {
		all = append(all, ks)
	}
	return all, nil
}

func (d *MemDB) UpdateKeysetActive(keysetId string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ks, ok := d.keysets[keysetId]
	if !ok {
		return fmt.Errorf("memdb: unknown keyset %s", keysetId)
	}
	ks.Active = active
	d.keysets[keysetId] = ks
	return nil
}

func (d *MemDB) CheckSpent(Ys []string) (map[string]bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(Ys))
	for _, y := range Ys {
		_, spent := d.spentProofs[y]
		out[y] = spent
	}
	return out, nil
}

func (d *MemDB) MarkSpent(proofs cashu.Proofs, Ys []string, transactionId string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, y := range Ys {
		if _, exists := d.spentProofs[y]; exists {
			return cashu.ProofAlreadyUsedErr
		}
	}
	for _, y := range Ys {
		d.spentProofs[y] = spentProofRow{transactionId: transactionId}
	}
	return nil
}

func (d *MemDB) CheckState(Ys []string) ([]nut07.ProofState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	states := make([]nut07.ProofState, len(Ys))
	for i, y := range Ys {
		state := nut07.Unspent
		if _, spent := d.spentProofs[y]; spent {
			state = nut07.Spent
		}
		states[i] = nut07.ProofState{Y: y, State: state}
	}
	return states, nil
}

func (d *MemDB) DeleteByTransactionID(transactionId string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for y, row := range d.spentProofs {
		if row.transactionId == transactionId {
			delete(d.spentProofs, y)
			count++
		}
	}
	return count, nil
}

func (d *MemDB) SaveMintQuote(q MintQuote) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mintQuotes[q.Id] = q
	return nil
}

func (d *MemDB) GetMintQuote(id string) (MintQuote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.mintQuotes[id]
	if !ok {
		return MintQuote{}, cashu.MintQuoteNotExistErr
	}
	return q, nil
}

func (d *MemDB) UpdateMintQuoteState(quoteId string, state nut04.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.mintQuotes[quoteId]
	if !ok {
		return cashu.MintQuoteNotExistErr
	}
	q.State = state
	d.mintQuotes[quoteId] = q
	return nil
}

func (d *MemDB) MarkMintQuotePaid(quoteId string, depositTxid string, depositVout uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.mintQuotes[quoteId]
	if !ok || q.State != nut04.Unpaid {
		return fmt.Errorf("memdb: mint quote %s was not unpaid or does not exist", quoteId)
	}
	q.State = nut04.Paid
	q.PaidAt = time.Now().Unix()
	q.DepositTxid = depositTxid
	q.DepositVout = depositVout
	d.mintQuotes[quoteId] = q
	return nil
}

func (d *MemDB) ListMintQuotesUnpaid(limit int, nowSec int64, createdAfterMs int64) ([]MintQuote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matches []MintQuote
	for _, q := range d.mintQuotes {
		if q.State != nut04.Unpaid {
			continue
		}
		if q.Expiry < nowSec || q.CreatedAt < createdAfterMs {
			continue
		}
		matches = append(matches, q)
	}
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].CreatedAt < matches[i].CreatedAt {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (d *MemDB) SaveMeltQuote(q MeltQuote) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meltQuotes[q.Id] = q
	return nil
}

func (d *MemDB) GetMeltQuote(id string) (MeltQuote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.meltQuotes[id]
	if !ok {
		return MeltQuote{}, cashu.MeltQuoteNotExistErr
	}
	return q, nil
}

func (d *MemDB) UpdateMeltQuote(quoteId string, txid string, state nut05.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.meltQuotes[quoteId]
	if !ok {
		return cashu.MeltQuoteNotExistErr
	}
	q.State = state
	if txid != "" {
		q.Txid = txid
	}
	d.meltQuotes[quoteId] = q
	return nil
}

func (d *MemDB) AddUTXO(utxo ReserveUTXO) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := fmt.Sprintf("%s:%d", utxo.Txid, utxo.Vout)
	d.utxos[key] = utxo
	return nil
}

func (d *MemDB) MarkUTXOSpent(txid string, vout uint32, spentInTxid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := fmt.Sprintf("%s:%d", txid, vout)
	u, ok := d.utxos[key]
	if !ok {
		return fmt.Errorf("memdb: unknown reserve utxo %s", key)
	}
	u.Spent = true
	u.SpentInTxid = spentInTxid
	d.utxos[key] = u
	return nil
}

func (d *MemDB) UnspentUTXOs(assetId string) ([]ReserveUTXO, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []ReserveUTXO
	for _, u := range d.utxos {
		if u.AssetId == assetId && !u.Spent {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *MemDB) Balance(assetId string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := new(big.Int)
	for _, u := range d.utxos {
		if u.AssetId != assetId || u.Spent {
			continue
		}
		amt, ok := new(big.Int).SetString(u.Amount, 10)
		if !ok {
			continue
		}
		total.Add(total, amt)
	}
	return total.String(), nil
}

func (d *MemDB) SpentKeys() (map[string]bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool)
	for key, u := range d.utxos {
		if u.Spent {
			out[key] = true
		}
	}
	return out, nil
}

func (d *MemDB) SyncFromChain(utxos []ReserveUTXO) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	added := 0
	for _, u := range utxos {
		key := fmt.Sprintf("%s:%d", u.Txid, u.Vout)
		if _, exists := d.utxos[key]; exists {
			continue
		}
		d.utxos[key] = u
		added++
	}
	return added, nil
}

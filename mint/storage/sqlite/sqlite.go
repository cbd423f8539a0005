package sqlite

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/cashu/nuts/nut04"
	"github.com/runecashu/mint/cashu/nuts/nut05"
	"github.com/runecashu/mint/cashu/nuts/nut07"
	"github.com/runecashu/mint/mint/storage"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

// create a temporary directory with the migration files.
// migration files are embedded with go:embed. These are then read
// and copied to a temporary directory.
// This is needed to pass the directory to migrate.New
func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "migrations")
	if err != nil {
		return "", err
	}

	migrationFiles, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, file := range migrationFiles {
		filePath := filepath.Join(tempDir, file.Name())

		migrationFilePath := filepath.Join("migrations", file.Name())
		migrationFile, err := migrations.Open(migrationFilePath)
		if err != nil {
			return "", err
		}
		defer migrationFile.Close()

		destFile, err := os.Create(filePath)
		if err != nil {
			return "", err
		}
		defer destFile.Close()

		_, err = io.Copy(destFile, migrationFile)
		if err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	tempMigrationsDir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempMigrationsDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", tempMigrationsDir), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveSeed(seed []byte) error {
	hexSeed := hex.EncodeToString(seed)
	_, err := sqlite.db.Exec(`INSERT INTO seed (id, seed) VALUES (?, ?)`, "id", hexSeed)
	return err
}

func (sqlite *SQLiteDB) GetSeed() ([]byte, error) {
	var hexSeed string
	row := sqlite.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "id")
	if err := row.Scan(&hexSeed); err != nil {
		return nil, err
	}
	return hex.DecodeString(hexSeed)
}

func (sqlite *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	var finalExpiry sql.NullInt64
	if keyset.FinalExpiry != nil {
		finalExpiry = sql.NullInt64{Int64: *keyset.FinalExpiry, Valid: true}
	}

	if _, err := tx.Exec(
		`INSERT INTO keysets (id, unit, asset_id, active, input_fee_ppk, created_at, final_expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		keyset.Id, keyset.Unit, keyset.AssetId, keyset.Active, keyset.InputFeePpk, keyset.CreatedAt, finalExpiry,
	); err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO keyset_keys (keyset_id, amount, encrypted_privkey) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for amount, encrypted := range keyset.EncryptedKeys {
		if _, err := stmt.Exec(keyset.Id, amount, encrypted); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	rows, err := sqlite.db.Query("SELECT id, unit, asset_id, active, input_fee_ppk, created_at, final_expiry FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keysets := []storage.DBKeyset{}
	for rows.Next() {
		var ks storage.DBKeyset
		var finalExpiry sql.NullInt64
		if err := rows.Scan(&ks.Id, &ks.Unit, &ks.AssetId, &ks.Active, &ks.InputFeePpk, &ks.CreatedAt, &finalExpiry); err != nil {
			return nil, err
		}
		if finalExpiry.Valid {
			ks.FinalExpiry = &finalExpiry.Int64
		}
		keysets = append(keysets, ks)
	}

	for i := range keysets {
		keyRows, err := sqlite.db.Query("SELECT amount, encrypted_privkey FROM keyset_keys WHERE keyset_id = ?", keysets[i].Id)
		if err != nil {
			return nil, err
		}
		keysets[i].EncryptedKeys = make(map[uint64]string)
		for keyRows.Next() {
			var amount uint64
			var encrypted string
			if err := keyRows.Scan(&amount, &encrypted); err != nil {
				keyRows.Close()
				return nil, err
			}
			keysets[i].EncryptedKeys[amount] = encrypted
		}
		keyRows.Close()
	}

	return keysets, nil
}

func (sqlite *SQLiteDB) UpdateKeysetActive(id string, active bool) error {
	result, err := sqlite.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("keyset was not updated")
	}
	return nil
}

// CheckSpent reports which of the requested Ys are already recorded as spent.
func (sqlite *SQLiteDB) CheckSpent(Ys []string) (map[string]bool, error) {
	result := make(map[string]bool, len(Ys))
	if len(Ys) == 0 {
		return result, nil
	}

	query := `SELECT y FROM spent_proofs WHERE y in (?` + strings.Repeat(",?", len(Ys)-1) + `)`
	args := make([]any, len(Ys))
	for i, y := range Ys {
		args[i] = y
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var y string
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		result[y] = true
	}
	return result, nil
}

// MarkSpent inserts one spent-proof row per (proof, Y) under transactionId,
// inside a single transaction so two concurrent spends of the same proof
// produce exactly one success and one ProofAlreadyUsedErr.
func (sqlite *SQLiteDB) MarkSpent(proofs cashu.Proofs, Ys []string, transactionId string) error {
	if len(proofs) != len(Ys) {
		return errors.New("proofs and Ys length mismatch")
	}

	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for i, proof := range proofs {
		var exists int
		row := tx.QueryRow("SELECT 1 FROM spent_proofs WHERE y = ?", Ys[i])
		if err := row.Scan(&exists); err == nil {
			tx.Rollback()
			return cashu.ProofAlreadyUsedErr
		} else if err != sql.ErrNoRows {
			tx.Rollback()
			return err
		}

		if _, err := tx.Exec(
			`INSERT INTO spent_proofs (y, keyset_id, amount, secret, c, witness, spent_at, transaction_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			Ys[i], proof.Id, proof.Amount, proof.Secret, proof.C, nullIfEmpty(proof.Witness), now, transactionId,
		); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) CheckState(Ys []string) ([]nut07.ProofState, error) {
	states := make([]nut07.ProofState, len(Ys))
	for i, y := range Ys {
		states[i] = nut07.ProofState{Y: y, State: nut07.Unspent}
	}

	if len(Ys) == 0 {
		return states, nil
	}

	query := `SELECT y, witness FROM spent_proofs WHERE y in (?` + strings.Repeat(",?", len(Ys)-1) + `)`
	args := make([]any, len(Ys))
	for i, y := range Ys {
		args[i] = y
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]string)
	for rows.Next() {
		var y string
		var witness sql.NullString
		if err := rows.Scan(&y, &witness); err != nil {
			return nil, err
		}
		found[y] = witness.String
	}

	for i, y := range Ys {
		if witness, ok := found[y]; ok {
			states[i].State = nut07.Spent
			states[i].Witness = witness
		}
	}

	return states, nil
}

func (sqlite *SQLiteDB) DeleteByTransactionID(transactionId string) (int, error) {
	result, err := sqlite.db.Exec("DELETE FROM spent_proofs WHERE transaction_id = ?", transactionId)
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (sqlite *SQLiteDB) SaveMintQuote(quote storage.MintQuote) error {
	_, err := sqlite.db.Exec(
		`INSERT INTO mint_quotes (id, amount, unit, asset_id, deposit_address, state, expiry, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		quote.Id, quote.Amount, quote.Unit, quote.AssetId, quote.DepositAddress, quote.State.String(), quote.Expiry, quote.CreatedAt,
	)
	return err
}

func scanMintQuote(row *sql.Row) (storage.MintQuote, error) {
	var q storage.MintQuote
	var state string
	var paidAt sql.NullInt64
	var depositTxid sql.NullString
	var depositVout sql.NullInt64

	err := row.Scan(&q.Id, &q.Amount, &q.Unit, &q.AssetId, &q.DepositAddress, &state, &q.Expiry, &q.CreatedAt, &paidAt, &depositTxid, &depositVout)
	if err != nil {
		return storage.MintQuote{}, err
	}
	q.State = nut04.StringToState(state)
	if paidAt.Valid {
		q.PaidAt = paidAt.Int64
	}
	if depositTxid.Valid {
		q.DepositTxid = depositTxid.String
	}
	if depositVout.Valid {
		q.DepositVout = uint32(depositVout.Int64)
	}
	return q, nil
}

func (sqlite *SQLiteDB) GetMintQuote(id string) (storage.MintQuote, error) {
	row := sqlite.db.QueryRow(
		"SELECT id, amount, unit, asset_id, deposit_address, state, expiry, created_at, paid_at, deposit_txid, deposit_vout FROM mint_quotes WHERE id = ?",
		id,
	)
	q, err := scanMintQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MintQuote{}, cashu.MintQuoteNotExistErr
	}
	return q, err
}

func (sqlite *SQLiteDB) UpdateMintQuoteState(quoteId string, state nut04.State) error {
	var paidAt any
	if state == nut04.Paid {
		paidAt = time.Now().Unix()
		_, err := sqlite.db.Exec("UPDATE mint_quotes SET state = ?, paid_at = ? WHERE id = ?", state.String(), paidAt, quoteId)
		return err
	}
	result, err := sqlite.db.Exec("UPDATE mint_quotes SET state = ? WHERE id = ?", state.String(), quoteId)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("mint quote was not updated")
	}
	return nil
}

func (sqlite *SQLiteDB) MarkMintQuotePaid(quoteId string, depositTxid string, depositVout uint32) error {
	result, err := sqlite.db.Exec(
		`UPDATE mint_quotes SET state = ?, paid_at = ?, deposit_txid = ?, deposit_vout = ? WHERE id = ? AND state = ?`,
		nut04.Paid.String(), time.Now().Unix(), depositTxid, depositVout, quoteId, nut04.Unpaid.String(),
	)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("mint quote was not unpaid or does not exist")
	}
	return nil
}

func (sqlite *SQLiteDB) ListMintQuotesUnpaid(limit int, nowSec int64, createdAfterMs int64) ([]storage.MintQuote, error) {
	rows, err := sqlite.db.Query(
		`SELECT id, amount, unit, asset_id, deposit_address, state, expiry, created_at, paid_at, deposit_txid, deposit_vout
		FROM mint_quotes WHERE state = ? AND expiry >= ? AND created_at >= ?
		ORDER BY created_at ASC LIMIT ?`,
		nut04.Unpaid.String(), nowSec, createdAfterMs, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []storage.MintQuote
	for rows.Next() {
		var q storage.MintQuote
		var state string
		var paidAt sql.NullInt64
		var depositTxid sql.NullString
		var depositVout sql.NullInt64
		if err := rows.Scan(&q.Id, &q.Amount, &q.Unit, &q.AssetId, &q.DepositAddress, &state, &q.Expiry, &q.CreatedAt, &paidAt, &depositTxid, &depositVout); err != nil {
			return nil, err
		}
		q.State = nut04.StringToState(state)
		q.PaidAt = paidAt.Int64
		q.DepositTxid = depositTxid.String
		q.DepositVout = uint32(depositVout.Int64)
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (sqlite *SQLiteDB) SaveMeltQuote(quote storage.MeltQuote) error {
	_, err := sqlite.db.Exec(
		`INSERT INTO melt_quotes (id, amount, fee_reserve, unit, asset_id, destination, state, expiry, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quote.Id, quote.Amount, quote.FeeReserve, quote.Unit, quote.AssetId, quote.Destination, quote.State.String(), quote.Expiry, quote.CreatedAt,
	)
	return err
}

func (sqlite *SQLiteDB) GetMeltQuote(id string) (storage.MeltQuote, error) {
	row := sqlite.db.QueryRow(
		"SELECT id, amount, fee_reserve, unit, asset_id, destination, state, expiry, created_at, paid_at, txid, fee_paid FROM melt_quotes WHERE id = ?",
		id,
	)

	var q storage.MeltQuote
	var state string
	var paidAt sql.NullInt64
	var txid sql.NullString
	var feePaid sql.NullInt64

	err := row.Scan(&q.Id, &q.Amount, &q.FeeReserve, &q.Unit, &q.AssetId, &q.Destination, &state, &q.Expiry, &q.CreatedAt, &paidAt, &txid, &feePaid)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MeltQuote{}, cashu.MeltQuoteNotExistErr
	}
	if err != nil {
		return storage.MeltQuote{}, err
	}
	q.State = nut05.StringToState(state)
	if paidAt.Valid {
		q.PaidAt = paidAt.Int64
	}
	if txid.Valid {
		q.Txid = txid.String
	}
	if feePaid.Valid {
		q.FeePaid = uint64(feePaid.Int64)
	}
	return q, nil
}

func (sqlite *SQLiteDB) UpdateMeltQuote(quoteId string, txid string, state nut05.State) error {
	var err error
	if state == nut05.Paid {
		_, err = sqlite.db.Exec(
			"UPDATE melt_quotes SET state = ?, txid = ?, paid_at = ? WHERE id = ?",
			state.String(), txid, time.Now().Unix(), quoteId,
		)
	} else {
		_, err = sqlite.db.Exec("UPDATE melt_quotes SET state = ?, txid = ? WHERE id = ?", state.String(), nullIfEmpty(txid), quoteId)
	}
	return err
}

func (sqlite *SQLiteDB) AddUTXO(utxo storage.ReserveUTXO) error {
	_, err := sqlite.db.Exec(
		`INSERT OR IGNORE INTO reserve_utxos (txid, vout, asset_id, amount, address, sat_value, spent, spent_in_txid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		utxo.Txid, utxo.Vout, utxo.AssetId, utxo.Amount, utxo.Address, utxo.SatValue, utxo.Spent, nullIfEmpty(utxo.SpentInTxid), utxo.CreatedAt,
	)
	return err
}

func (sqlite *SQLiteDB) MarkUTXOSpent(txid string, vout uint32, spentInTxid string) error {
	_, err := sqlite.db.Exec(
		"UPDATE reserve_utxos SET spent = 1, spent_in_txid = ? WHERE txid = ? AND vout = ?",
		spentInTxid, txid, vout,
	)
	return err
}

func (sqlite *SQLiteDB) UnspentUTXOs(assetId string) ([]storage.ReserveUTXO, error) {
	rows, err := sqlite.db.Query(
		"SELECT txid, vout, asset_id, amount, address, sat_value, spent, spent_in_txid, created_at FROM reserve_utxos WHERE asset_id = ? AND spent = 0",
		assetId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utxos []storage.ReserveUTXO
	for rows.Next() {
		u, err := scanUTXO(rows)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, u)
	}
	return utxos, nil
}

func scanUTXO(rows *sql.Rows) (storage.ReserveUTXO, error) {
	var u storage.ReserveUTXO
	var spentInTxid sql.NullString
	err := rows.Scan(&u.Txid, &u.Vout, &u.AssetId, &u.Amount, &u.Address, &u.SatValue, &u.Spent, &spentInTxid, &u.CreatedAt)
	if err != nil {
		return storage.ReserveUTXO{}, err
	}
	if spentInTxid.Valid {
		u.SpentInTxid = spentInTxid.String
	}
	return u, nil
}

func (sqlite *SQLiteDB) Balance(assetId string) (string, error) {
	rows, err := sqlite.db.Query("SELECT amount FROM reserve_utxos WHERE asset_id = ? AND spent = 0", assetId)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	total := new(big.Int)
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return "", err
		}
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return "", fmt.Errorf("invalid stored reserve amount %q", amountStr)
		}
		total.Add(total, amount)
	}
	return total.String(), nil
}

func (sqlite *SQLiteDB) SpentKeys() (map[string]bool, error) {
	rows, err := sqlite.db.Query("SELECT txid, vout FROM reserve_utxos WHERE spent = 1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var txid string
		var vout uint32
		if err := rows.Scan(&txid, &vout); err != nil {
			return nil, err
		}
		keys[fmt.Sprintf("%s:%d", txid, vout)] = true
	}
	return keys, nil
}

// SyncFromChain inserts each UTXO not already present and reports how many
// were newly added. It never updates an existing row.
func (sqlite *SQLiteDB) SyncFromChain(utxos []storage.ReserveUTXO) (int, error) {
	added := 0
	for _, utxo := range utxos {
		result, err := sqlite.db.Exec(
			`INSERT OR IGNORE INTO reserve_utxos (txid, vout, asset_id, amount, address, sat_value, spent, spent_in_txid, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			utxo.Txid, utxo.Vout, utxo.AssetId, utxo.Amount, utxo.Address, utxo.SatValue, utxo.Spent, nullIfEmpty(utxo.SpentInTxid), utxo.CreatedAt,
		)
		if err != nil {
			return added, err
		}
		count, err := result.RowsAffected()
		if err != nil {
			return added, err
		}
		added += int(count)
	}
	return added, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Package mint implements the custodial services that sit on top of the
// storage, crypto, chain, and txbuilder layers: minting against confirmed
// on-chain rune deposits, swapping proofs, and melting ecash back out to a
// destination address.
package mint

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/cashu/nuts/nut04"
	"github.com/runecashu/mint/cashu/nuts/nut06"
	"github.com/runecashu/mint/cashu/nuts/nut10"
	"github.com/runecashu/mint/cashu/nuts/nut11"
	"github.com/runecashu/mint/cashu/nuts/nut12"
	"github.com/runecashu/mint/chain"
	"github.com/runecashu/mint/crypto"
	"github.com/runecashu/mint/mint/config"
	"github.com/runecashu/mint/mint/storage"
	"github.com/runecashu/mint/mint/storage/sqlite"
	"github.com/runecashu/mint/reserve"
	"github.com/runecashu/mint/txbuilder"
)

const (
	// MintQuoteExpirySecs is how long a mint quote's deposit address stays
	// live before it expires, unpaid.
	MintQuoteExpirySecs = 24 * 60 * 60
	// MeltQuoteExpirySecs is how long a melt quote stays redeemable.
	MeltQuoteExpirySecs = 60 * 60
)

// Mint ties the storage, crypto, chain-view, and transaction-building layers
// together into the mint's three client-facing services (mint, swap, melt)
// plus the two background tasks that keep quotes and the reserve in sync
// with the chain.
type Mint struct {
	db storage.MintDB

	// mu guards keysets/activeKeysetId, the only hot shared mutable state:
	// reads dominate (every sign/verify call), writes occur only at keyset
	// creation and deactivation.
	mu             sync.RWMutex
	keysets        map[string]crypto.MintKeyset // keyset id -> keyset, active and inactive
	activeKeysetId string

	assetId string
	unit    string
	limits  config.MintLimits

	mintConfirmations uint32
	encryptionKey     []byte
	seed              []byte
	inputFeePpk       uint

	chainView chain.View
	reserve   *reserve.Tracker
	builder   *txbuilder.Builder
	keys      *txbuilder.Keys
	params    *chaincfg.Params

	taprootAddress string
	feeAddress     string

	mintInfo nut06.MintInfo
	logger   *slog.Logger
}

// LoadMint opens (or initializes) the mint's sqlite database, derives its
// signing keys, reconstructs its keysets, and wires up the chain view and
// transaction builder described by cfg.
func LoadMint(cfg config.Config) (*Mint, error) {
	if err := os.MkdirAll(cfg.DBPath, 0700); err != nil {
		return nil, fmt.Errorf("mint: creating db path: %w", err)
	}

	logger, err := setupLogger(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("mint: setting up sqlite: %w", err)
	}

	if err := reconcileSeed(db, cfg.Seed); err != nil {
		return nil, err
	}

	keys, err := txbuilder.DeriveKeys(cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("mint: deriving withdrawal keys: %w", err)
	}

	params := networkParams(cfg.Network)
	taprootAddress, feeAddress, err := addressesFromKeys(keys, params)
	if err != nil {
		return nil, fmt.Errorf("mint: deriving reserve addresses: %w", err)
	}

	chainView := chain.NewHTTPView(cfg.ChainViewURL)

	m := &Mint{
		db:                db,
		keysets:           make(map[string]crypto.MintKeyset),
		assetId:           cfg.AssetId,
		unit:              cfg.Unit,
		limits:            cfg.Limits,
		mintConfirmations: cfg.MintConfirmations,
		encryptionKey:     cfg.EncryptionKey,
		seed:              cfg.Seed,
		inputFeePpk:       cfg.InputFeePpk,
		chainView:         chainView,
		reserve:           reserve.NewTracker(db),
		keys:              keys,
		params:            params,
		taprootAddress:    taprootAddress,
		feeAddress:        feeAddress,
		logger:            logger,
	}
	m.builder = txbuilder.NewBuilder(chainView, keys, params, logger)

	if err := m.loadKeysets(); err != nil {
		return nil, err
	}

	m.SetMintInfo(cfg)

	return m, nil
}

func (m *Mint) Close() error {
	return m.db.Close()
}

func (m *Mint) TaprootAddress() string { return m.taprootAddress }
func (m *Mint) FeeAddress() string     { return m.feeAddress }
func (m *Mint) AssetId() string        { return m.assetId }
func (m *Mint) Unit() string           { return m.unit }

func reconcileSeed(db storage.MintDB, configuredSeed []byte) error {
	storedSeed, err := db.GetSeed()
	if errors.Is(err, sql.ErrNoRows) {
		return db.SaveSeed(configuredSeed)
	}
	if err != nil {
		return fmt.Errorf("mint: reading stored seed: %w", err)
	}
	if string(storedSeed) != string(configuredSeed) {
		return errors.New("mint: configured MINT_SEED does not match the seed already stored for this database")
	}
	return nil
}

func networkParams(network string) *chaincfg.Params {
	switch strings.ToLower(network) {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.RegressionNetParams
	}
}

// addressesFromKeys derives the mint's two static on-chain addresses from
// its withdrawal-signing keys: a Taproot address that doubles as the single
// deposit/reserve address, and a SegWit address that holds the fee-paying
// UTXOs.
func addressesFromKeys(keys *txbuilder.Keys, params *chaincfg.Params) (taproot string, fee string, err error) {
	outputKey := txscript.ComputeTaprootKeyNoScript(keys.Taproot.PubKey())
	taprootAddr, err := btcutil.NewAddressTaproot(outputKey.SerializeCompressed()[1:], params)
	if err != nil {
		return "", "", fmt.Errorf("taproot address: %w", err)
	}

	hash := btcutil.Hash160(keys.SegWit.PubKey().SerializeCompressed())
	feeAddr, err := btcutil.NewAddressWitnessPubKeyHash(hash, params)
	if err != nil {
		return "", "", fmt.Errorf("segwit address: %w", err)
	}

	return taprootAddr.EncodeAddress(), feeAddr.EncodeAddress(), nil
}

func setupLogger(mintPath string) (*slog.Logger, error) {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	logFile, err := os.OpenFile(filepath.Join(mintPath, "mint.log"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("mint: opening log file: %w", err)
	}

	return slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, logFile), &slog.HandlerOptions{
		AddSource:   true,
		ReplaceAttr: replacer,
	})), nil
}

// logInfof formats the message and preserves the caller's source position,
// rather than this method's own — otherwise every log line would point at
// this file instead of the call site.
func (m *Mint) logInfof(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelInfo, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logErrorf(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelError, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logWarnf(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelWarn, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

// SetMintInfo rebuilds the mint's NUT-06 info document from cfg and the
// currently active keyset's public key.
func (m *Mint) SetMintInfo(cfg config.Config) {
	pubkey := ""
	if ks, ok := m.ActiveKeyset(); ok {
		if k, ok := ks.Keys[1]; ok {
			pubkey = hex.EncodeToString(k.PublicKey.SerializeCompressed())
		}
	}

	m.mintInfo = nut06.MintInfo{
		Name:        cfg.MintName,
		Pubkey:      pubkey,
		Description: cfg.MintDescription,
		Asset: nut06.AssetInfo{
			RuneId:   cfg.AssetId,
			RuneName: cfg.AssetName,
		},
		Nuts: nut06.NutsMap{
			4: map[string]any{
				"methods": []nut06.MethodSetting{{Method: "onchain", Unit: m.unit, MinAmount: m.limits.MinMint, MaxAmount: m.limits.MaxMint}},
			},
			5: map[string]any{
				"methods": []nut06.MethodSetting{{Method: "onchain", Unit: m.unit, MinAmount: m.limits.MinMelt, MaxAmount: m.limits.MaxMelt}},
			},
			7:  map[string]any{"supported": true},
			10: map[string]any{"supported": true},
			11: map[string]any{"supported": true},
			12: map[string]any{"supported": true},
		},
	}
}

func (m *Mint) MintInfo() nut06.MintInfo {
	return m.mintInfo
}

// --- keyset management (C2) -------------------------------------------------

func (m *Mint) loadKeysets() error {
	dbKeysets, err := m.db.GetKeysets()
	if err != nil {
		return fmt.Errorf("mint: reading keysets from db: %w", err)
	}

	keysets := make(map[string]crypto.MintKeyset, len(dbKeysets))
	var activeId string
	for _, dbks := range dbKeysets {
		ks, err := m.reconstructKeyset(dbks)
		if err != nil {
			return fmt.Errorf("mint: reconstructing keyset %s: %w", dbks.Id, err)
		}
		keysets[ks.Id] = *ks
		if ks.Active && ks.AssetId == m.assetId && ks.Unit == m.unit {
			activeId = ks.Id
		}
	}

	if activeId == "" {
		ks, err := m.generateActiveKeyset()
		if err != nil {
			return err
		}
		keysets[ks.Id] = *ks
		activeId = ks.Id
		m.logInfof("generated new active keyset %s for asset %s unit %s", ks.Id, m.assetId, m.unit)
	}

	// Deactivate any other keyset that was left active for this asset/unit
	// (e.g. after a rotation that crashed before the old one was flipped).
	for id, ks := range keysets {
		if id != activeId && ks.Active && ks.AssetId == m.assetId && ks.Unit == m.unit {
			if err := m.db.UpdateKeysetActive(id, false); err != nil {
				return fmt.Errorf("mint: deactivating stale keyset %s: %w", id, err)
			}
			ks.Active = false
			keysets[id] = ks
			m.logInfof("deactivated stale keyset %s", id)
		}
	}

	m.mu.Lock()
	m.keysets = keysets
	m.activeKeysetId = activeId
	m.mu.Unlock()
	return nil
}

func (m *Mint) generateActiveKeyset() (*crypto.MintKeyset, error) {
	ks, err := crypto.GenerateKeyset(m.seed, m.assetId, m.unit, m.inputFeePpk, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("mint: generating keyset: %w", err)
	}

	dbks, err := m.encryptKeyset(ks)
	if err != nil {
		return nil, err
	}

	if err := m.db.SaveKeyset(dbks); err != nil {
		if isUniqueConstraintErr(err) {
			// Two concurrent generate calls for the same (asset_id, unit)
			// raced; the loser reloads what the winner persisted.
			existing, rerr := m.db.GetKeysets()
			if rerr != nil {
				return nil, rerr
			}
			for _, candidate := range existing {
				if candidate.Id == ks.Id {
					return m.reconstructKeyset(candidate)
				}
			}
			return nil, fmt.Errorf("mint: keyset %s collided but could not be reloaded", ks.Id)
		}
		return nil, fmt.Errorf("mint: saving new keyset: %w", err)
	}

	return ks, nil
}

func (m *Mint) encryptKeyset(ks *crypto.MintKeyset) (storage.DBKeyset, error) {
	encrypted := make(map[uint64]string, len(ks.Keys))
	for amount, kp := range ks.Keys {
		enc, err := crypto.EncryptPrivateKey(kp.PrivateKey, m.encryptionKey)
		if err != nil {
			return storage.DBKeyset{}, fmt.Errorf("mint: encrypting key for denomination %d: %w", amount, err)
		}
		encrypted[amount] = enc
	}
	return storage.DBKeyset{
		Id:            ks.Id,
		Unit:          ks.Unit,
		AssetId:       ks.AssetId,
		Active:        ks.Active,
		EncryptedKeys: encrypted,
		InputFeePpk:   ks.InputFeePpk,
		CreatedAt:     ks.CreatedAt,
		FinalExpiry:   ks.FinalExpiry,
	}, nil
}

func (m *Mint) reconstructKeyset(dbks storage.DBKeyset) (*crypto.MintKeyset, error) {
	keys := make(map[uint64]crypto.KeyPair, len(dbks.EncryptedKeys))
	for amount, enc := range dbks.EncryptedKeys {
		priv, err := crypto.DecryptPrivateKey(enc, m.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting key for denomination %d: %w", amount, err)
		}
		keys[amount] = crypto.KeyPair{PrivateKey: priv, PublicKey: priv.PubKey()}
	}
	return &crypto.MintKeyset{
		Id:          dbks.Id,
		Unit:        dbks.Unit,
		AssetId:     dbks.AssetId,
		Active:      dbks.Active,
		Keys:        keys,
		InputFeePpk: dbks.InputFeePpk,
		CreatedAt:   dbks.CreatedAt,
		FinalExpiry: dbks.FinalExpiry,
	}, nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// ActiveKeyset returns the mint's single active keyset for its configured
// (asset_id, unit).
func (m *Mint) ActiveKeyset() (crypto.MintKeyset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks, ok := m.keysets[m.activeKeysetId]
	return ks, ok
}

// Keyset looks up a keyset (active or not) by id, used by verification
// paths where older, now-inactive keysets must still validate proofs.
func (m *Mint) Keyset(id string) (crypto.MintKeyset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks, ok := m.keysets[id]
	return ks, ok
}

// Keysets returns every keyset the mint knows, active and inactive.
func (m *Mint) Keysets() []crypto.MintKeyset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]crypto.MintKeyset, 0, len(m.keysets))
	for _, ks := range m.keysets {
		all = append(all, ks)
	}
	return all
}

// --- blind-signature engine (C3) -------------------------------------------

// signBlindedMessages signs every message against the mint's active keyset,
// attaching a NUT-12 DLEQ proof to each signature. Signing against an
// inactive keyset is never allowed: only the active keyset mints new value.
func (m *Mint) signBlindedMessages(outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	keyset, ok := m.ActiveKeyset()
	if !ok {
		return nil, cashu.UnknownKeysetErr
	}

	signatures := make(cashu.BlindedSignatures, 0, len(outputs))
	for _, msg := range outputs {
		if msg.Id != keyset.Id {
			return nil, cashu.InactiveKeysetErr
		}

		kp, ok := keyset.Keys[msg.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageErr
		}

		bBytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, cashu.InvalidBlindedMessageErr
		}
		B_, err := secp256k1.ParsePubKey(bBytes)
		if err != nil {
			return nil, cashu.InvalidBlindedMessageErr
		}

		C_ := crypto.SignBlindedMessage(B_, kp.PrivateKey)
		e, s := crypto.GenerateDLEQ(kp.PrivateKey, B_, C_)

		sig := cashu.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
		}
		if e != nil && s != nil {
			sig.DLEQ = &cashu.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			}
		}
		signatures = append(signatures, sig)
	}

	return signatures, nil
}

// verifyProofs checks every proof's BDHKE signature, its DLEQ proof if one
// was attached, and — for P2PK-locked proofs — the spending condition.
// SIG_ALL is rejected across the whole batch before any individual
// verification runs, matching the swap/melt contract.
func (m *Mint) verifyProofs(proofs cashu.Proofs) error {
	if nut11.ProofsSigAll(proofs) {
		return nut11.SigAllNotSupportedErr
	}

	now := time.Now().Unix()
	for _, proof := range proofs {
		keyset, ok := m.Keyset(proof.Id)
		if !ok {
			return cashu.UnknownKeysetErr
		}
		kp, ok := keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofErr
		}

		cBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.InvalidProofErr
		}
		C, err := secp256k1.ParsePubKey(cBytes)
		if err != nil {
			return cashu.InvalidProofErr
		}
		if !crypto.Verify([]byte(proof.Secret), kp.PrivateKey, C) {
			return cashu.InvalidProofErr
		}

		if proof.DLEQ != nil && !nut12.VerifyProofDLEQ(proof, kp.PublicKey) {
			return cashu.InvalidProofErr
		}

		if nut10.SecretType(proof) == nut10.P2PK {
			if err := nut11.Verify(proof, now); err != nil {
				return err
			}
		}
	}

	return nil
}

// hashSecret returns the hex-encoded compressed hash-to-curve point for a
// proof's secret — the Y value that uniquely identifies it in the spent-
// proof store.
func hashSecret(secret string) string {
	Y := crypto.HashToCurve([]byte(secret))
	return hex.EncodeToString(Y.SerializeCompressed())
}

func yValues(proofs cashu.Proofs) []string {
	Ys := make([]string, len(proofs))
	for i, p := range proofs {
		Ys[i] = hashSecret(p.Secret)
	}
	return Ys
}

// --- chain helpers shared by the mint/deposit-monitor paths -----------------

func splitOutpoint(ref string) (txid string, vout uint32, err error) {
	i := len(ref) - 1
	for i >= 0 && ref[i] != ':' {
		i--
	}
	if i < 0 {
		return "", 0, fmt.Errorf("mint: malformed outpoint %q", ref)
	}
	var v uint64
	if _, err := fmt.Sscanf(ref[i+1:], "%d", &v); err != nil {
		return "", 0, fmt.Errorf("mint: malformed outpoint %q: %w", ref, err)
	}
	return ref[:i], uint32(v), nil
}

// trackedOutpoints returns every "txid:vout" the reserve tracker already
// knows about, spent or not, so deposit scans can skip outputs that are
// already accounted for.
func (m *Mint) trackedOutpoints() (map[string]bool, error) {
	tracked := make(map[string]bool)

	spent, err := m.reserve.SpentKeys()
	if err != nil {
		return nil, fmt.Errorf("mint: reading spent reserve keys: %w", err)
	}
	for k := range spent {
		tracked[k] = true
	}

	unspent, err := m.reserve.Unspent(m.assetId)
	if err != nil {
		return nil, fmt.Errorf("mint: reading unspent reserve utxos: %w", err)
	}
	for _, u := range unspent {
		tracked[fmt.Sprintf("%s:%d", u.Txid, u.Vout)] = true
	}

	return tracked, nil
}

// findNewConfirmedDeposit scans quote.DepositAddress for a confirmed,
// not-yet-tracked output whose rune amount equals quote.Amount exactly. It
// does not enforce a confirmation-count threshold — that is mint_tokens's
// job, not get_quote's.
func (m *Mint) findNewConfirmedDeposit(ctx context.Context, quote storage.MintQuote) (txid string, vout uint32, found bool, err error) {
	tracked, err := m.trackedOutpoints()
	if err != nil {
		return "", 0, false, err
	}

	outputs, err := m.chainView.AddressOutputs(ctx, quote.DepositAddress)
	if err != nil {
		return "", 0, false, err
	}

	want := new(big.Int).SetUint64(quote.Amount)
	for _, ref := range outputs.Outputs {
		if tracked[ref] {
			continue
		}
		outTxid, outVout, err := splitOutpoint(ref)
		if err != nil {
			continue
		}

		status, err := m.chainView.Transaction(ctx, outTxid)
		if err != nil || !status.Confirmed {
			continue
		}

		details, err := m.chainView.OutputDetails(ctx, outTxid, outVout)
		if err != nil {
			continue
		}
		content, ok := details.Runes[quote.AssetId]
		if !ok {
			continue
		}
		amt, ok := new(big.Int).SetString(content.Amount, 10)
		if !ok {
			continue
		}

		if amt.Cmp(want) != 0 {
			m.logWarnf("deposit amount mismatch for mint quote %s: got %s want %s at %s", quote.Id, content.Amount, want.String(), ref)
			continue
		}

		return outTxid, outVout, true, nil
	}

	return "", 0, false, nil
}

// GetMintQuoteState loads the quote and, if still UNPAID, checks for a new
// confirmed deposit of the exact requested amount, promoting it to PAID.
// Chain-view errors are logged and swallowed: the quote's currently stored
// state is always returned.
func (m *Mint) GetMintQuoteState(ctx context.Context, quoteId string) (storage.MintQuote, error) {
	quote, err := m.db.GetMintQuote(quoteId)
	if err != nil {
		return storage.MintQuote{}, err
	}

	if quote.State != nut04.Unpaid {
		return quote, nil
	}

	txid, vout, found, err := m.findNewConfirmedDeposit(ctx, quote)
	if err != nil {
		m.logErrorf("checking deposit for mint quote %s: %v", quote.Id, err)
		return quote, nil
	}
	if !found {
		return quote, nil
	}

	if err := m.db.MarkMintQuotePaid(quote.Id, txid, vout); err != nil {
		m.logErrorf("marking mint quote %s paid: %v", quote.Id, err)
		return quote, nil
	}
	quote.State = nut04.Paid
	quote.DepositTxid = txid
	quote.DepositVout = vout
	quote.PaidAt = time.Now().Unix()
	m.logInfof("mint quote %s paid by %s:%d", quote.Id, txid, vout)

	return quote, nil
}

// CreateMintQuote validates the request against the mint's configured
// asset/unit and amount limits, and opens a fresh UNPAID quote against the
// mint's single deposit address.
func (m *Mint) CreateMintQuote(amount uint64, unit string, assetId string) (storage.MintQuote, error) {
	if unit != m.unit || assetId != m.assetId {
		return storage.MintQuote{}, cashu.UnitNotSupportedErr
	}
	if amount < m.limits.MinMint || (m.limits.MaxMint > 0 && amount > m.limits.MaxMint) {
		return storage.MintQuote{}, cashu.AmountOutOfRangeErr
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		m.logErrorf("generating mint quote id: %v", err)
		return storage.MintQuote{}, cashu.StandardErr
	}

	now := time.Now()
	quote := storage.MintQuote{
		Id:             quoteId,
		Amount:         amount,
		Unit:           unit,
		AssetId:        assetId,
		DepositAddress: m.taprootAddress,
		State:          nut04.Unpaid,
		Expiry:         now.Unix() + MintQuoteExpirySecs,
		CreatedAt:      now.UnixMilli(),
	}

	if err := m.db.SaveMintQuote(quote); err != nil {
		m.logErrorf("saving mint quote: %v", err)
		return storage.MintQuote{}, cashu.StandardErr
	}

	return quote, nil
}

// locateConfirmedDeposit performs the mandatory on-chain re-verification
// mint_tokens requires regardless of the quote's stored state: it protects
// against stored-state corruption, chain reorgs, and races with the deposit
// monitor. If the quote already recorded a deposit outpoint from a prior
// PAID transition, that specific output is re-checked directly; otherwise
// the deposit address is rescanned for an exact-amount match.
func (m *Mint) locateConfirmedDeposit(ctx context.Context, quote storage.MintQuote) (txid string, vout uint32, err error) {
	want := new(big.Int).SetUint64(quote.Amount)

	checkOutput := func(txid string, vout uint32) (bool, error) {
		status, err := m.chainView.Transaction(ctx, txid)
		if err != nil {
			return false, err
		}
		if !status.Confirmed {
			return false, nil
		}
		tip, err := m.chainView.BlockHeight(ctx)
		if err != nil {
			return false, err
		}
		confirmations := tip - status.BlockHeight + 1
		if confirmations < m.mintConfirmations {
			return false, nil
		}

		details, err := m.chainView.OutputDetails(ctx, txid, vout)
		if err != nil {
			return false, err
		}
		content, ok := details.Runes[quote.AssetId]
		if !ok {
			return false, nil
		}
		amt, ok := new(big.Int).SetString(content.Amount, 10)
		if !ok || amt.Cmp(want) != 0 {
			return false, nil
		}
		return true, nil
	}

	if quote.DepositTxid != "" {
		ok, err := checkOutput(quote.DepositTxid, quote.DepositVout)
		if err != nil {
			return "", 0, err
		}
		if ok {
			return quote.DepositTxid, quote.DepositVout, nil
		}
		return "", 0, cashu.InsufficientConfsErr
	}

	outputs, err := m.chainView.AddressOutputs(ctx, quote.DepositAddress)
	if err != nil {
		return "", 0, err
	}

	sawAmountMatch := false
	for _, ref := range outputs.Outputs {
		outTxid, outVout, err := splitOutpoint(ref)
		if err != nil {
			continue
		}

		details, err := m.chainView.OutputDetails(ctx, outTxid, outVout)
		if err != nil {
			continue
		}
		content, ok := details.Runes[quote.AssetId]
		if !ok {
			continue
		}
		amt, ok := new(big.Int).SetString(content.Amount, 10)
		if !ok || amt.Cmp(want) != 0 {
			continue
		}
		sawAmountMatch = true

		ok, err = checkOutput(outTxid, outVout)
		if err != nil {
			continue
		}
		if ok {
			return outTxid, outVout, nil
		}
	}

	if sawAmountMatch {
		return "", 0, cashu.InsufficientConfsErr
	}
	return "", 0, cashu.AmountMismatchErr
}

// MintTokens re-verifies the quote's deposit on-chain regardless of its
// stored state, signs the requested outputs, and transitions the quote to
// ISSUED. The on-chain re-verification here is non-negotiable: it is the
// only thing standing between a corrupted/raced stored state and double
// issuance.
func (m *Mint) MintTokens(ctx context.Context, quoteId string, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	quote, err := m.db.GetMintQuote(quoteId)
	if err != nil {
		return nil, err
	}
	if quote.State == nut04.Issued {
		return nil, cashu.MintQuoteAlreadyIssuedErr
	}

	txid, vout, err := m.locateConfirmedDeposit(ctx, quote)
	if err != nil {
		return nil, err
	}

	if quote.State == nut04.Unpaid {
		if err := m.db.MarkMintQuotePaid(quote.Id, txid, vout); err != nil && !isUniqueConstraintErr(err) {
			m.logErrorf("marking mint quote %s paid during issuance: %v", quote.Id, err)
		}
	}

	outAmount, err := outputs.AmountChecked()
	if err != nil {
		return nil, cashu.AmountOverflowErr
	}
	if outAmount != quote.Amount {
		return nil, cashu.OutputsOverQuoteAmountErr
	}

	signatures, err := m.signBlindedMessages(outputs)
	if err != nil {
		return nil, err
	}

	if err := m.db.UpdateMintQuoteState(quote.Id, nut04.Issued); err != nil {
		m.logErrorf("transitioning mint quote %s to issued: %v", quote.Id, err)
		return nil, cashu.StandardErr
	}

	m.logInfof("mint quote %s issued for %d", quote.Id, quote.Amount)
	return signatures, nil
}

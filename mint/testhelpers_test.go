package mint

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/chain"
	"github.com/runecashu/mint/crypto"
	"github.com/runecashu/mint/mint/config"
	"github.com/runecashu/mint/mint/storage"
	"github.com/runecashu/mint/reserve"
	"github.com/runecashu/mint/txbuilder"
)

const (
	testAssetId = "840000:3"
	testUnit    = "rune"
)

// newTestMint builds a Mint directly against an in-memory store and a fake
// chain view, the way production LoadMint would against sqlite and an HTTP
// view, without touching the filesystem or the network.
func newTestMint(t *testing.T) (*Mint, *chain.FakeView) {
	t.Helper()

	seed := bytes.Repeat([]byte{0x11}, 32)
	encryptionKey := bytes.Repeat([]byte{0x22}, 32)

	keys, err := txbuilder.DeriveKeys(seed)
	if err != nil {
		t.Fatalf("deriving keys: %v", err)
	}
	params := &chaincfg.RegressionNetParams
	taprootAddress, feeAddress, err := addressesFromKeys(keys, params)
	if err != nil {
		t.Fatalf("deriving addresses: %v", err)
	}

	view := chain.NewFakeView()
	db := storage.NewMemDB()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := &Mint{
		db:                db,
		keysets:           make(map[string]crypto.MintKeyset),
		assetId:           testAssetId,
		unit:              testUnit,
		limits:            config.MintLimits{MinMint: 1, MaxMint: 1 << 23, MinMelt: 1, MaxMelt: 1 << 23},
		mintConfirmations: 1,
		encryptionKey:     encryptionKey,
		seed:              seed,
		chainView:         view,
		reserve:           reserve.NewTracker(db),
		keys:              keys,
		params:            params,
		taprootAddress:    taprootAddress,
		feeAddress:        feeAddress,
		logger:            logger,
	}
	m.builder = txbuilder.NewBuilder(view, keys, params, logger)

	if err := m.loadKeysets(); err != nil {
		t.Fatalf("loading keysets: %v", err)
	}

	return m, view
}

// testToken blinds amount under the mint's active keyset and returns the
// blinded message to submit plus everything needed to unblind the resulting
// signature into a spendable proof.
type testToken struct {
	secret []byte
	r      *secp256k1.PrivateKey
	msg    cashu.BlindedMessage
}

func newTestOutputs(t *testing.T, m *Mint, amounts ...uint64) ([]testToken, cashu.BlindedMessages) {
	t.Helper()
	keyset, ok := m.ActiveKeyset()
	if !ok {
		t.Fatalf("mint has no active keyset")
	}

	tokens := make([]testToken, len(amounts))
	outputs := make(cashu.BlindedMessages, len(amounts))
	for i, amount := range amounts {
		secret := []byte(fmt.Sprintf("secret-%d-%d", amount, i))
		blindingFactor := make([]byte, 32)
		blindingFactor[31] = byte(i + 1)
		B_, r := crypto.BlindMessage(secret, blindingFactor)

		msg := cashu.NewBlindedMessage(keyset.Id, amount, B_)
		tokens[i] = testToken{secret: secret, r: r, msg: msg}
		outputs[i] = msg
	}
	return tokens, outputs
}

// unblindProofs turns signatures returned for tokens' blinded messages back
// into spendable proofs, the way a wallet would.
func unblindProofs(t *testing.T, m *Mint, tokens []testToken, signatures cashu.BlindedSignatures) cashu.Proofs {
	t.Helper()
	keyset, ok := m.ActiveKeyset()
	if !ok {
		t.Fatalf("mint has no active keyset")
	}

	proofs := make(cashu.Proofs, len(tokens))
	for i, tok := range tokens {
		sig := signatures[i]
		kp, ok := keyset.Keys[sig.Amount]
		if !ok {
			t.Fatalf("no keypair for amount %d", sig.Amount)
		}

		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			t.Fatalf("decoding C_: %v", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			t.Fatalf("parsing C_: %v", err)
		}
		C := crypto.UnblindSignature(C_, tok.r, kp.PublicKey)

		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: string(tok.secret),
			C:      hex.EncodeToString(C.SerializeCompressed()),
			DLEQ:   sig.DLEQ,
		}
	}
	return proofs
}

// fakeTxid returns a syntactically valid 64-hex txid distinct per seed byte,
// since chainhash.NewHashFromStr requires exactly 32 bytes of hex.
func fakeTxid(seed byte) string {
	return hex.EncodeToString(bytes.Repeat([]byte{seed}, 32))
}

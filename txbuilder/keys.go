package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// segwitPath and taprootPath are the mint's fixed withdrawal-signing
// derivations, both on the regtest/testnet coin type used throughout this
// deployment's chain view.
var (
	segwitPath  = []uint32{hdkeychain.HardenedKeyStart + 84, hdkeychain.HardenedKeyStart + 1, hdkeychain.HardenedKeyStart + 0, 0, 0}
	taprootPath = []uint32{hdkeychain.HardenedKeyStart + 86, hdkeychain.HardenedKeyStart + 1, hdkeychain.HardenedKeyStart + 0, 0, 0}
)

// Keys holds the two withdrawal-signing keys derived once from the mint
// seed: a SegWit key for the fixed fee input and a Taproot internal key for
// rune inputs.
type Keys struct {
	SegWit  *btcec.PrivateKey
	Taproot *btcec.PrivateKey // untweaked internal key
}

// DeriveKeys derives the SegWit and Taproot withdrawal keys from the mint's
// 32-byte seed.
func DeriveKeys(seed []byte) (*Keys, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: deriving master key: %w", err)
	}

	segwit, err := derivePath(master, segwitPath)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: deriving segwit key: %w", err)
	}
	segwitPriv, err := segwit.ECPrivKey()
	if err != nil {
		return nil, err
	}

	taproot, err := derivePath(master, taprootPath)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: deriving taproot key: %w", err)
	}
	taprootPriv, err := taproot.ECPrivKey()
	if err != nil {
		return nil, err
	}

	return &Keys{SegWit: segwitPriv, Taproot: taprootPriv}, nil
}

func derivePath(master *hdkeychain.ExtendedKey, path []uint32) (*hdkeychain.ExtendedKey, error) {
	key := master
	for _, idx := range path {
		var err error
		key, err = key.Derive(idx)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

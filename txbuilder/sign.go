package txbuilder

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Sign signs every input of built with keys: input 0 (the fixed SegWit fee
// input) with ECDSA, and every remaining Taproot rune input with BIP-340
// Schnorr against the internal key tweaked per BIP-341 (TapTweak, no script
// path). It then finalizes every input and extracts the raw transaction.
func Sign(built *BuiltPSBT, keys *Keys, logger *slog.Logger) (*wire.MsgTx, string, error) {
	packet := built.Packet
	tx := packet.UnsignedTx

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		fetcher.AddPrevOut(in.PreviousOutPoint, built.PrevOuts[i])
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	// input 0: SegWit fee input, ECDSA.
	witness, err := txscript.WitnessSignature(
		tx, sigHashes, 0, built.PrevOuts[0].Value, built.PrevOuts[0].PkScript,
		txscript.SigHashAll, keys.SegWit, true,
	)
	if err != nil {
		return nil, "", fmt.Errorf("txbuilder: signing fee input: %w", err)
	}
	sig := witness[0]
	pubKey := witness[1]
	packet.Inputs[0].PartialSigs = append(packet.Inputs[0].PartialSigs, &psbt.PartialSig{
		PubKey:    pubKey,
		Signature: sig,
	})
	if _, err := ecdsa.ParseDERSignature(sig[:len(sig)-1]); err != nil {
		return nil, "", fmt.Errorf("txbuilder: malformed fee signature: %w", err)
	}

	// Taproot rune inputs: key-path spend. RawTxInTaprootSignature tweaks
	// the internal key with taggedHash("TapTweak", x_only_pubkey) per
	// BIP-341 before the Schnorr signature (tapLeaf is nil: no script path).
	for i := 1; i < len(tx.TxIn); i++ {
		taprootSig, err := txscript.RawTxInTaprootSignature(
			tx, sigHashes, i, built.PrevOuts[i].Value, built.PrevOuts[i].PkScript,
			nil, txscript.SigHashDefault, keys.Taproot,
		)
		if err != nil {
			return nil, "", fmt.Errorf("txbuilder: schnorr-signing input %d: %w", i, err)
		}
		packet.Inputs[i].TaprootKeySpendSig = taprootSig
	}

	for i := range packet.Inputs {
		if err := psbt.Finalize(packet, i); err != nil {
			return nil, "", fmt.Errorf("txbuilder: finalizing input %d: %w", i, err)
		}
	}

	finalTx, err := psbt.Extract(packet)
	if err != nil {
		return nil, "", fmt.Errorf("txbuilder: extracting final transaction: %w", err)
	}

	sanityCheckRunestoneOutput(finalTx, logger)

	txid := finalTx.TxHash()
	return finalTx, txid.String(), nil
}

func sanityCheckRunestoneOutput(tx *wire.MsgTx, logger *slog.Logger) {
	last := tx.TxOut[len(tx.TxOut)-1]
	if len(last.PkScript) < 2 || last.PkScript[0] != 0x6a || last.PkScript[1] != 0x5d {
		if logger != nil {
			logger.Warn("withdrawal transaction's final output is not an OP_RETURN runestone",
				"pkscript_prefix", fmt.Sprintf("%x", last.PkScript[:min(2, len(last.PkScript))]))
		}
	}
}

// SerializeHex returns the raw transaction's hex encoding, ready for
// broadcast through a chain view.
func SerializeHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

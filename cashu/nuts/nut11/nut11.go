// Package nut11 implements the P2PK spending-condition verifier: parsing
// P2PK-shaped secrets and witnesses, and enforcing the pubkey/locktime/
// refund/n_sigs rules a proof's signatures must satisfy.
package nut11

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/cashu/nuts/nut10"
)

const (
	SIGFLAG      = "sigflag"
	NSIGS        = "n_sigs"
	PUBKEYS      = "pubkeys"
	LOCKTIME     = "locktime"
	REFUND       = "refund"
	NSIGS_REFUND = "n_sigs_refund"

	SIGINPUTS = "SIG_INPUTS"
	SIGALL    = "SIG_ALL"
)

var (
	InvalidTagErr            = cashu.BuildCashuError("invalid tag", cashu.P2PKVerificationFailedErrCode)
	TooManyTagsErr           = cashu.BuildCashuError("too many tags", cashu.P2PKVerificationFailedErrCode)
	NSigsMustBePositiveErr   = cashu.BuildCashuError("n_sigs must be a positive integer", cashu.P2PKVerificationFailedErrCode)
	EmptyWitnessErr          = cashu.BuildCashuError("witness cannot be empty", cashu.P2PKVerificationFailedErrCode)
	NotEnoughSignaturesErr   = cashu.BuildCashuError("not enough valid signatures provided", cashu.P2PKVerificationFailedErrCode)
	SigAllNotSupportedErr    = cashu.BuildCashuError("SIG_ALL is not supported", cashu.P2PKVerificationFailedErrCode)
	MalformedP2PKSecretErr   = cashu.BuildCashuError("malformed P2PK secret", cashu.P2PKVerificationFailedErrCode)
)

type P2PKWitness struct {
	Signatures []string `json:"signatures"`
}

type P2PKTags struct {
	Sigflag      string
	NSigs        int
	Pubkeys      []*btcec.PublicKey
	Locktime     int64
	Refund       []*btcec.PublicKey
	NSigsRefund  int
	hasNSigsRefund bool
}

// P2PKSecret returns a secret string with a spending condition that locks
// ecash to a single public key.
func P2PKSecret(pubkey string) (string, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(nonceBytes)

	secretData := nut10.WellKnownSecret{
		Nonce: nonce,
		Data:  pubkey,
	}

	return nut10.SerializeSecret(nut10.P2PK, secretData)
}

func ParseP2PKTags(tags [][]string) (*P2PKTags, error) {
	if len(tags) > 6 {
		return nil, TooManyTagsErr
	}

	p2pkTags := P2PKTags{}

	for _, tag := range tags {
		if len(tag) < 2 {
			return nil, InvalidTagErr
		}
		switch tag[0] {
		case SIGFLAG:
			if tag[1] == SIGINPUTS || tag[1] == SIGALL {
				p2pkTags.Sigflag = tag[1]
			} else {
				return nil, cashu.BuildCashuError(fmt.Sprintf("invalid sigflag: %v", tag[1]), cashu.P2PKVerificationFailedErrCode)
			}
		case NSIGS:
			nsig, err := strconv.ParseInt(tag[1], 10, 32)
			if err != nil {
				return nil, cashu.BuildCashuError(fmt.Sprintf("invalid n_sigs value: %v", err), cashu.P2PKVerificationFailedErrCode)
			}
			if nsig < 0 {
				return nil, NSigsMustBePositiveErr
			}
			p2pkTags.NSigs = int(nsig)
		case PUBKEYS:
			pubkeys := make([]*btcec.PublicKey, 0, len(tag)-1)
			for i := 1; i < len(tag); i++ {
				pubkey, err := ParsePublicKey(tag[i])
				if err != nil {
					return nil, err
				}
				pubkeys = append(pubkeys, pubkey)
			}
			p2pkTags.Pubkeys = pubkeys
		case LOCKTIME:
			locktime, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				return nil, cashu.BuildCashuError(fmt.Sprintf("invalid locktime: %v", err), cashu.P2PKVerificationFailedErrCode)
			}
			p2pkTags.Locktime = locktime
		case REFUND:
			refundKeys := make([]*btcec.PublicKey, 0, len(tag)-1)
			for i := 1; i < len(tag); i++ {
				pubkey, err := ParsePublicKey(tag[i])
				if err != nil {
					return nil, err
				}
				refundKeys = append(refundKeys, pubkey)
			}
			p2pkTags.Refund = refundKeys
		case NSIGS_REFUND:
			nsig, err := strconv.ParseInt(tag[1], 10, 32)
			if err != nil {
				return nil, cashu.BuildCashuError(fmt.Sprintf("invalid n_sigs_refund value: %v", err), cashu.P2PKVerificationFailedErrCode)
			}
			if nsig < 0 {
				return nil, NSigsMustBePositiveErr
			}
			p2pkTags.NSigsRefund = int(nsig)
			p2pkTags.hasNSigsRefund = true
		}
	}

	return &p2pkTags, nil
}

func AddSignatureToInputs(inputs cashu.Proofs, signingKey *btcec.PrivateKey) (cashu.Proofs, error) {
	for i, proof := range inputs {
		hash := sha256.Sum256([]byte(proof.Secret))
		signature, err := schnorr.Sign(signingKey, hash[:])
		if err != nil {
			return nil, err
		}

		witness, err := json.Marshal(P2PKWitness{
			Signatures: []string{hex.EncodeToString(signature.Serialize())},
		})
		if err != nil {
			return nil, err
		}
		proof.Witness = string(witness)
		inputs[i] = proof
	}

	return inputs, nil
}

func AddSignatureToOutputs(outputs cashu.BlindedMessages, signingKey *btcec.PrivateKey) (cashu.BlindedMessages, error) {
	for i, output := range outputs {
		msgToSign, err := hex.DecodeString(output.B_)
		if err != nil {
			return nil, err
		}

		hash := sha256.Sum256(msgToSign)
		signature, err := schnorr.Sign(signingKey, hash[:])
		if err != nil {
			return nil, err
		}

		witness, err := json.Marshal(P2PKWitness{
			Signatures: []string{hex.EncodeToString(signature.Serialize())},
		})
		if err != nil {
			return nil, err
		}
		output.Witness = string(witness)
		outputs[i] = output
	}

	return outputs, nil
}

// PublicKeys returns the list of public keys authorized to sign a P2PK
// locked proof (its primary data key plus any additional pubkeys tag).
func PublicKeys(secret nut10.WellKnownSecret) ([]*btcec.PublicKey, error) {
	p2pkTags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return nil, err
	}

	pubkey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return nil, err
	}
	return append([]*btcec.PublicKey{pubkey}, p2pkTags.Pubkeys...), nil
}

func IsSecretP2PK(proof cashu.Proof) bool {
	return nut10.SecretType(proof) == nut10.P2PK
}

// ProofsSigAll reports whether at least one proof in the list declares
// sigflag=SIG_ALL.
func ProofsSigAll(proofs cashu.Proofs) bool {
	for _, proof := range proofs {
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			continue
		}
		if IsSigAll(secret) {
			return true
		}
	}
	return false
}

func IsSigAll(secret nut10.WellKnownSecret) bool {
	for _, tag := range secret.Tags {
		if len(tag) == 2 && tag[0] == SIGFLAG && tag[1] == SIGALL {
			return true
		}
	}
	return false
}

func CanSign(secret nut10.WellKnownSecret, key *btcec.PrivateKey) bool {
	publicKey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(publicKey.SerializeCompressed(), key.PubKey().SerializeCompressed())
}

// Verify enforces the P2PK spending condition on a single proof at time
// now. SIG_ALL is rejected outright: it is not implemented in this core.
func Verify(proof cashu.Proof, now int64) error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return MalformedP2PKSecretErr
	}

	if IsSigAll(secret) {
		return SigAllNotSupportedErr
	}

	tags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	var authorized []*btcec.PublicKey
	required := 1

	if tags.Locktime == 0 || now < tags.Locktime {
		primary, err := ParsePublicKey(secret.Data)
		if err != nil {
			return MalformedP2PKSecretErr
		}
		authorized = append([]*btcec.PublicKey{primary}, tags.Pubkeys...)
		if tags.NSigs > 0 {
			required = tags.NSigs
		}
	} else {
		if len(tags.Refund) == 0 {
			// locktime passed and no refund keys: anyone can spend.
			return nil
		}
		authorized = tags.Refund
		required = len(tags.Refund)
		if tags.hasNSigsRefund {
			required = tags.NSigsRefund
		}
	}

	if proof.Witness == "" {
		return EmptyWitnessErr
	}

	witness, err := ParseWitness(proof.Witness)
	if err != nil {
		return MalformedP2PKSecretErr
	}

	hash := sha256.Sum256([]byte(proof.Secret))
	if !HasValidSignatures(hash[:], witness, required, authorized) {
		return NotEnoughSignaturesErr
	}

	return nil
}

// ParseWitness normalizes a proof's witness field, which may arrive either
// as a JSON-encoded string or as a structured value.
func ParseWitness(raw string) (P2PKWitness, error) {
	var witness P2PKWitness
	if err := json.Unmarshal([]byte(raw), &witness); err != nil {
		return P2PKWitness{}, err
	}
	return witness, nil
}

func HasValidSignatures(hash []byte, witness P2PKWitness, nSigs int, pubkeys []*btcec.PublicKey) bool {
	remaining := make([]*btcec.PublicKey, len(pubkeys))
	copy(remaining, pubkeys)

	valid := 0
	for _, signature := range witness.Signatures {
		sig, err := ParseSignature(signature)
		if err != nil {
			continue
		}

		for i, pubkey := range remaining {
			if sig.Verify(hash, pubkey) {
				valid++
				remaining = slices.Delete(remaining, i, i+1)
				break
			}
		}
	}

	return valid >= nSigs
}

// ParsePublicKey normalizes a public key presented as 66-hex compressed,
// 64-hex x-only, or a legacy decimal-comma byte list, and parses it.
func ParsePublicKey(key string) (*btcec.PublicKey, error) {
	hexKey := key
	if strings.Contains(key, ",") {
		hexKey = decimalCommaToHex(key)
	}

	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("invalid public key: %v", err), cashu.P2PKVerificationFailedErrCode)
	}

	if len(keyBytes) == 32 {
		keyBytes = append([]byte{0x02}, keyBytes...)
	}

	pubkey, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("invalid public key: %v", err), cashu.P2PKVerificationFailedErrCode)
	}
	return pubkey, nil
}

// decimalCommaToHex converts a legacy "2,3,10,..." decimal byte list into
// lowercase hex.
func decimalCommaToHex(key string) string {
	parts := strings.Split(key, ",")
	buf := make([]byte, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return key
		}
		buf = append(buf, byte(n))
	}
	return hex.EncodeToString(buf)
}

func ParseSignature(signature string) (*schnorr.Signature, error) {
	hexSig, err := hex.DecodeString(signature)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("invalid signature: %v", err), cashu.P2PKVerificationFailedErrCode)
	}
	sig, err := schnorr.ParseSignature(hexSig)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("invalid signature: %v", err), cashu.P2PKVerificationFailedErrCode)
	}
	return sig, nil
}

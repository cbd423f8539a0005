package crypto

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// domainSeparator is the fixed 28-byte prefix used to derive hash_to_curve's
// base hash. It is not a secret; it exists only to keep this hash distinct
// from any other SHA256-based derivation sharing the same message space.
const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

const maxHashToCurveAttempts = 1 << 16

// HashToCurve maps an arbitrary secret to a deterministic, valid secp256k1
// point: Y = hash_to_curve(secret). base is fixed for a given message; a
// counter is appended and re-hashed until the resulting 33-byte string
// (0x02 prefix + hash) parses as a compressed point.
func HashToCurve(message []byte) *secp256k1.PublicKey {
	base := sha256.Sum256(append([]byte(domainSeparator), message...))

	var counter [4]byte
	for i := 0; i < maxHashToCurveAttempts; i++ {
		binary.BigEndian.PutUint32(counter[:], uint32(i))
		cand := sha256.Sum256(append(base[:], counter[:]...))
		pkBytes := append([]byte{0x02}, cand[:]...)
		if point, err := secp256k1.ParsePubKey(pkBytes); err == nil {
			return point
		}
	}
	panic("crypto: hash_to_curve exhausted 2^16 attempts")
}

// BlindMessage computes B_ = Y + rG for secret Y = hash_to_curve(secret) and
// blinding factor r.
func BlindMessage(secret []byte, blindingFactor []byte) (*secp256k1.PublicKey, *secp256k1.PrivateKey) {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y := HashToCurve(secret)
	Y.AsJacobian(&ypoint)

	r, rpub := btcec.PrivKeyFromBytes(blindingFactor)
	rpub.AsJacobian(&rpoint)

	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r
}

// SignBlindedMessage computes C_ = k*B_.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// UnblindSignature computes C = C_ - rK.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// Verify reports whether C == k*hash_to_curve(secret).
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y := HashToCurve(secret)
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// VerifySchnorr verifies a BIP-340 Schnorr signature over SHA256(message).
// pubkey may be a 33-byte compressed point (parity byte stripped) or a
// 32-byte x-only key. sig must be exactly 64 bytes.
func VerifySchnorr(message []byte, sig64 []byte, pubkey []byte) bool {
	if len(sig64) != 64 {
		return false
	}

	var xOnly []byte
	switch len(pubkey) {
	case 33:
		xOnly = pubkey[1:]
	case 32:
		xOnly = pubkey
	default:
		return false
	}

	pk, err := schnorr.ParsePubKey(xOnly)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sig64)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pk)
}

package crypto

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// GenerateDLEQ produces a non-interactive proof that the same scalar k used
// to compute C_ = k*B_ is the scalar behind the keyset's public key A = k*G,
// without revealing k. Construction (NUT-12):
//
//	p random scalar
//	R1 = p*G, R2 = p*B_
//	e  = SHA256(R1 || R2 || A || C_)
//	s  = p + e*k
func GenerateDLEQ(k *secp256k1.PrivateKey, B_ *secp256k1.PublicKey, C_ *secp256k1.PublicKey) (
	e *secp256k1.PrivateKey, s *secp256k1.PrivateKey) {

	p, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil
	}

	A := k.PubKey()

	var bpoint, r1point, r2point secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	p.PubKey().AsJacobian(&r1point)
	secp256k1.ScalarMultNonConst(&p.Key, &bpoint, &r2point)
	r2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2point.X, &r2point.Y)

	eVal := dleqChallenge(p.PubKey(), R2, A, C_)
	eScalar := secp256k1.PrivKeyFromBytes(eVal[:])

	// s = p + e*k
	var sScalar secp256k1.ModNScalar
	sScalar.Mul2(&eScalar.Key, &k.Key)
	sScalar.Add(&p.Key)

	sBytes := sScalar.Bytes()
	s = secp256k1.PrivKeyFromBytes(sBytes[:])
	e = eScalar

	return e, s
}

// VerifyDLEQ checks a DLEQ proof (e, s) against the keyset's public key A,
// the blinded message B_ and the blind signature C_.
//
//	R1 = s*G - e*A
//	R2 = s*B_ - e*C_
//	accept iff e == SHA256(R1 || R2 || A || C_)
func VerifyDLEQ(e *secp256k1.PrivateKey, s *secp256k1.PrivateKey,
	A *secp256k1.PublicKey, B_ *secp256k1.PublicKey, C_ *secp256k1.PublicKey) bool {

	if e == nil || s == nil {
		return false
	}

	var aPoint, cPoint, bPoint secp256k1.JacobianPoint
	A.AsJacobian(&aPoint)
	C_.AsJacobian(&cPoint)
	B_.AsJacobian(&bPoint)

	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = s*G - e*A
	var sG, eA, r1 secp256k1.JacobianPoint
	s.PubKey().AsJacobian(&sG)
	secp256k1.ScalarMultNonConst(&eNeg, &aPoint, &eA)
	secp256k1.AddNonConst(&sG, &eA, &r1)
	r1.ToAffine()
	R1 := secp256k1.NewPublicKey(&r1.X, &r1.Y)

	// R2 = s*B_ - e*C_
	var sB, eC, r2 secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&s.Key, &bPoint, &sB)
	secp256k1.ScalarMultNonConst(&eNeg, &cPoint, &eC)
	secp256k1.AddNonConst(&sB, &eC, &r2)
	r2.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2.X, &r2.Y)

	expected := dleqChallenge(R1, R2, A, C_)
	return e.Key.Bytes() == expected
}

func dleqChallenge(R1, R2, A, C_ *secp256k1.PublicKey) [32]byte {
	h := sha256.New()
	h.Write(R1.SerializeCompressed())
	h.Write(R2.SerializeCompressed())
	h.Write(A.SerializeCompressed())
	h.Write(C_.SerializeCompressed())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Package cashu contains the core structs and logic
// of the Cashu protocol as implemented by this mint.
package cashu

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type Unit int

const (
	Sat Unit = iota
)

func (unit Unit) String() string {
	switch unit {
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidUnit     = errors.New("invalid unit")
	ErrAmountOverflows = errors.New("amount overflows uint64")
)

// BlindedMessage is the client's blinded secret submitted for signing.
// See https://github.com/cashubtc/nuts/blob/main/00.md#blindedmessage
type BlindedMessage struct {
	Amount  uint64 `json:"amount"`
	B_      string `json:"B_"`
	Id      string `json:"id"`
	Witness string `json:"witness,omitempty"`
}

func NewBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	return BlindedMessage{Amount: amount, B_: B_str, Id: id}
}

func SortBlindedMessages(blindedMessages BlindedMessages, secrets []string, rs []*secp256k1.PrivateKey) {
	for i := 0; i < len(blindedMessages)-1; i++ {
		for j := i + 1; j < len(blindedMessages); j++ {
			if blindedMessages[i].Amount > blindedMessages[j].Amount {
				blindedMessages[i], blindedMessages[j] = blindedMessages[j], blindedMessages[i]
				secrets[i], secrets[j] = secrets[j], secrets[i]
				rs[i], rs[j] = rs[j], rs[i]
			}
		}
	}
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var totalAmount uint64
	for _, msg := range bm {
		totalAmount += msg.Amount
	}
	return totalAmount
}

// AmountChecked sums the messages' amounts, failing closed with
// ErrAmountOverflows instead of wrapping silently.
func (bm BlindedMessages) AmountChecked() (uint64, error) {
	var total uint64
	for _, msg := range bm {
		var overflow bool
		total, overflow = OverflowAddUint64(total, msg.Amount)
		if overflow {
			return 0, ErrAmountOverflows
		}
	}
	return total, nil
}

// BlindedSignature is the mint's signature on a BlindedMessage.
// See https://github.com/cashubtc/nuts/blob/main/00.md#blindsignature
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
	// Pointer so omitempty elides it when no DLEQ proof is attached.
	DLEQ *DLEQProof `json:"dleq,omitempty"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var totalAmount uint64
	for _, sig := range bs {
		totalAmount += sig.Amount
	}
	return totalAmount
}

// Proof is a bearer value: an unblinded signature over a secret.
// See https://github.com/cashubtc/nuts/blob/main/00.md#proof
type Proof struct {
	Amount  uint64 `json:"amount"`
	Id      string `json:"id"`
	Secret  string `json:"secret"`
	C       string `json:"C"`
	Witness string `json:"witness,omitempty"`
	DLEQ    *DLEQProof `json:"dleq,omitempty"`
}

type Proofs []Proof

type DLEQProof struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}

func (proofs Proofs) Amount() uint64 {
	var totalAmount uint64
	for _, proof := range proofs {
		totalAmount += proof.Amount
	}
	return totalAmount
}

// AmountChecked sums the proofs' amounts, failing closed on overflow.
func (proofs Proofs) AmountChecked() (uint64, error) {
	var total uint64
	for _, proof := range proofs {
		var overflow bool
		total, overflow = OverflowAddUint64(total, proof.Amount)
		if overflow {
			return 0, ErrAmountOverflows
		}
	}
	return total, nil
}

type CashuErrCode int

// Error is the error shape returned for every client-facing operation.
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

// Error code ranges: 10000 quote, 11000 proof, 12000 amount, 13000 keyset,
// 14000 on-chain asset.
const (
	StandardErrCode CashuErrCode = 10000
	// Never returned in a client response; used internally to identify
	// where an error originated so it can be logged appropriately.
	DBErrCode CashuErrCode = 1

	MintQuoteNotExistErrCode   CashuErrCode = 10001
	MintQuoteNotPaidErrCode    CashuErrCode = 10002
	MintQuoteAlreadyIssuedCode CashuErrCode = 10003
	MeltQuoteNotExistErrCode   CashuErrCode = 10004
	MeltQuotePendingErrCode    CashuErrCode = 10005
	MeltQuoteAlreadyPaidCode   CashuErrCode = 10006
	MeltQuoteExpiredErrCode    CashuErrCode = 10007
	WithdrawalFailedErrCode    CashuErrCode = 10008

	ProofAlreadyUsedErrCode        CashuErrCode = 11001
	InvalidProofErrCode            CashuErrCode = 11002
	P2PKVerificationFailedErrCode  CashuErrCode = 11003
	InsufficientProofAmountErrCode CashuErrCode = 11004
	DuplicateProofsErrCode         CashuErrCode = 11005

	AmountMismatchErrCode  CashuErrCode = 12001
	AmountRangeErrCode     CashuErrCode = 12002
	AmountOverflowErrCode  CashuErrCode = 12003
	UnitErrCode            CashuErrCode = 12004

	UnknownKeysetErrCode  CashuErrCode = 13001
	InactiveKeysetErrCode CashuErrCode = 13002

	InsufficientConfirmationsErrCode CashuErrCode = 14001
	InsufficientFundsErrCode         CashuErrCode = 14002
	BroadcastMismatchErrCode         CashuErrCode = 14003
	InvalidDestinationErrCode        CashuErrCode = 14004
)

var (
	StandardErr              = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	UnknownKeysetErr          = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	InactiveKeysetErr         = Error{Detail: "requested signature from inactive keyset", Code: InactiveKeysetErrCode}
	UnitNotSupportedErr       = Error{Detail: "unit not supported", Code: UnitErrCode}
	InvalidBlindedMessageErr  = Error{Detail: "invalid amount in blinded message", Code: AmountRangeErrCode}
	AmountOverflowErr         = Error{Detail: "amount overflows", Code: AmountOverflowErrCode}
	AmountMismatchErr         = Error{Detail: "amount does not match expected value", Code: AmountMismatchErrCode}
	AmountOutOfRangeErr       = Error{Detail: "amount is outside of the configured range", Code: AmountRangeErrCode}
	MintQuoteNotExistErr      = Error{Detail: "mint quote does not exist", Code: MintQuoteNotExistErrCode}
	MintQuoteNotPaidErr       = Error{Detail: "mint quote has not been paid", Code: MintQuoteNotPaidErrCode}
	MintQuoteAlreadyIssuedErr = Error{Detail: "mint quote already issued", Code: MintQuoteAlreadyIssuedCode}
	InsufficientConfsErr      = Error{Detail: "deposit has insufficient confirmations", Code: InsufficientConfirmationsErrCode}
	OutputsOverQuoteAmountErr = Error{Detail: "sum of the output amounts does not match quote amount", Code: AmountMismatchErrCode}
	ProofAlreadyUsedErr       = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	InvalidProofErr           = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	NoProofsProvidedErr       = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	DuplicateProofsErr        = Error{Detail: "duplicate proofs", Code: DuplicateProofsErrCode}
	P2PKVerificationFailedErr = Error{Detail: "P2PK spending condition not satisfied", Code: P2PKVerificationFailedErrCode}
	MeltQuoteNotExistErr      = Error{Detail: "melt quote does not exist", Code: MeltQuoteNotExistErrCode}
	MeltQuotePendingErr       = Error{Detail: "melt quote is pending", Code: MeltQuotePendingErrCode}
	MeltQuoteAlreadyPaidErr   = Error{Detail: "melt quote already paid", Code: MeltQuoteAlreadyPaidCode}
	MeltQuoteExpiredErr       = Error{Detail: "melt quote has expired", Code: MeltQuoteExpiredErrCode}
	InsufficientProofsAmount  = Error{
		Detail: "amount of input proofs is below amount needed for transaction",
		Code:   InsufficientProofAmountErrCode,
	}
	InsufficientFundsErr  = Error{Detail: "insufficient reserve funds for this withdrawal", Code: InsufficientFundsErrCode}
	BroadcastMismatchErr  = Error{Detail: "broadcast txid did not match locally computed txid", Code: BroadcastMismatchErrCode}
	WithdrawalFailedErr   = Error{Detail: "on-chain withdrawal failed", Code: WithdrawalFailedErrCode}
	InvalidDestinationErr = Error{Detail: "invalid destination address", Code: InvalidDestinationErrCode}
)

// AmountSplit returns the list of denominations (e.g. 13 -> [1, 4, 8]) that
// sum to amount. Adapted from the nutshell reference implementation.
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

func CheckDuplicateProofs(proofs Proofs) bool {
	proofsMap := make(map[Proof]bool)
	for _, proof := range proofs {
		if proofsMap[proof] {
			return true
		}
		proofsMap[proof] = true
	}
	return false
}

func GenerateRandomQuoteId() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	hash := sha256.Sum256(randomBytes)
	return hex.EncodeToString(hash[:]), nil
}

func Max(x, y uint64) uint64 {
	if x > y {
		return x
	}
	return y
}

func Count(amounts []uint64, amount uint64) uint {
	var count uint
	for _, amt := range amounts {
		if amt == amount {
			count++
		}
	}
	return count
}

// OverflowAddUint64 adds a and b, reporting whether the true sum exceeds
// math.MaxUint64. On overflow it returns math.MaxUint64, never a wrapped
// value, so callers that forget to check the bool still fail safely high
// rather than silently low.
func OverflowAddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return math.MaxUint64, true
	}
	return sum, false
}

// UnderflowSubUint64 subtracts b from a, reporting whether b > a.
func UnderflowSubUint64(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, true
	}
	return a - b, false
}

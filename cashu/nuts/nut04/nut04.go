// Package nut04 contains the mint-quote request/response wire shapes,
// adapted from [NUT-04] to an on-chain deposit address instead of a BOLT11
// invoice.
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import "github.com/runecashu/mint/cashu"

// State is a mint quote's lifecycle state. UNPAID -> PAID -> ISSUED, both
// transitions once-only, no reverse edges.
type State int

const (
	Unpaid State = iota
	Paid
	Issued
)

func (s State) String() string {
	switch s {
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	default:
		return "UNPAID"
	}
}

func StringToState(s string) State {
	switch s {
	case "PAID":
		return Paid
	case "ISSUED":
		return Issued
	default:
		return Unpaid
	}
}

type PostMintQuoteRequest struct {
	Amount  uint64 `json:"amount"`
	Unit    string `json:"unit"`
	AssetId string `json:"asset_id"`
}

type PostMintQuoteResponse struct {
	Quote   string `json:"quote"`
	Request string `json:"request"` // deposit address
	State   string `json:"state"`
	Amount  uint64 `json:"amount"`
	Unit    string `json:"unit"`
	Expiry  int64  `json:"expiry"`
}

type PostMintRequest struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

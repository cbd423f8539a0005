// Package nut05 contains the melt-quote request/response wire shapes,
// adapted from [NUT-05] to an on-chain destination address instead of a
// BOLT11 invoice.
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import "github.com/runecashu/mint/cashu"

// State is a melt quote's lifecycle state. UNPAID -> PENDING -> PAID;
// PENDING -> UNPAID on broadcast failure (with proof revert).
type State int

const (
	Unpaid State = iota
	Pending
	Paid
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	default:
		return "UNPAID"
	}
}

func StringToState(s string) State {
	switch s {
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
	default:
		return Unpaid
	}
}

type PostMeltQuoteRequest struct {
	Amount      uint64 `json:"amount"`
	Unit        string `json:"unit"`
	AssetId     string `json:"asset_id"`
	Destination string `json:"destination"`
}

type PostMeltQuoteResponse struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      string `json:"state"`
	Request    string `json:"request"` // destination address
	Unit       string `json:"unit"`
	Expiry     int64  `json:"expiry"`
}

type PostMeltRequest struct {
	Quote  string       `json:"quote"`
	Inputs cashu.Proofs `json:"inputs"`
}

type PostMeltResponse struct {
	State           string `json:"state"`
	Paid            bool   `json:"paid"`
	PaymentPreimage string `json:"payment_preimage,omitempty"`
}

package chain

import (
	"context"
	"fmt"
)

// FakeView is an in-memory chain view for tests, mirroring the shape of the
// Lightning backends' fake test double.
type FakeView struct {
	Outputs   map[string]AddressOutputs          // address -> outputs
	Details   map[string]OutputDetails           // "txid:vout" -> details
	Txs       map[string]TransactionStatus       // txid -> status
	Outspends map[string]OutspendStatus          // "txid:vout" -> outspend
	Height    uint32
	Broadcasts []string
	NextTxid  string
}

func NewFakeView() *FakeView {
	return &FakeView{
		Outputs:   make(map[string]AddressOutputs),
		Details:   make(map[string]OutputDetails),
		Txs:       make(map[string]TransactionStatus),
		Outspends: make(map[string]OutspendStatus),
	}
}

func (f *FakeView) AddressOutputs(ctx context.Context, address string) (AddressOutputs, error) {
	return f.Outputs[address], nil
}

func (f *FakeView) OutputDetails(ctx context.Context, txid string, vout uint32) (OutputDetails, error) {
	return f.Details[fmt.Sprintf("%s:%d", txid, vout)], nil
}

func (f *FakeView) Transaction(ctx context.Context, txid string) (TransactionStatus, error) {
	return f.Txs[txid], nil
}

func (f *FakeView) Outspend(ctx context.Context, txid string, vout uint32) (OutspendStatus, error) {
	return f.Outspends[fmt.Sprintf("%s:%d", txid, vout)], nil
}

func (f *FakeView) BlockHeight(ctx context.Context) (uint32, error) {
	return f.Height, nil
}

func (f *FakeView) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	f.Broadcasts = append(f.Broadcasts, rawTxHex)
	if f.NextTxid == "" {
		return "", fmt.Errorf("fakeview: NextTxid not configured")
	}
	return f.NextTxid, nil
}

func (f *FakeView) TxHex(ctx context.Context, txid string) (string, error) {
	return "", nil
}

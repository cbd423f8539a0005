package mint

import (
	"context"
	"time"
)

// RunDepositMonitor polls for UNPAID mint quotes on a fixed interval and
// promotes any with a new confirmed exact-amount deposit to PAID. It runs
// until ctx is cancelled. Per-quote errors are logged and the cycle
// continues; a bad deposit-address lookup for one quote must never stall
// the rest of the batch.
func (m *Mint) RunDepositMonitor(ctx context.Context, pollInterval time.Duration, batchSize int, maxAge time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.depositMonitorCycle(ctx, batchSize, maxAge)
		}
	}
}

func (m *Mint) depositMonitorCycle(ctx context.Context, batchSize int, maxAge time.Duration) {
	now := time.Now()
	createdAfterMs := now.Add(-maxAge).UnixMilli()

	quotes, err := m.db.ListMintQuotesUnpaid(batchSize, now.Unix(), createdAfterMs)
	if err != nil {
		m.logErrorf("deposit monitor: listing unpaid mint quotes: %v", err)
		return
	}

	for _, quote := range quotes {
		txid, vout, found, err := m.findNewConfirmedDeposit(ctx, quote)
		if err != nil {
			m.logErrorf("deposit monitor: checking quote %s: %v", quote.Id, err)
			continue
		}
		if !found {
			continue
		}

		if err := m.db.MarkMintQuotePaid(quote.Id, txid, vout); err != nil {
			if !isUniqueConstraintErr(err) {
				m.logErrorf("deposit monitor: marking quote %s paid: %v", quote.Id, err)
			}
			continue
		}
		m.logInfof("deposit monitor: mint quote %s paid by %s:%d", quote.Id, txid, vout)
	}
}

package mint

import (
	"context"
	"time"
)

// RunUTXOSync reconciles the reserve tracker against the mint's taproot
// address on a fixed interval, running until ctx is cancelled.
func (m *Mint) RunUTXOSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, err := m.reserve.SyncFromChain(ctx, m.chainView, m.taprootAddress, m.assetId, time.Now().Unix())
			if err != nil {
				m.logErrorf("utxo sync: %v", err)
				continue
			}
			if added > 0 {
				m.logInfof("utxo sync: added %d new reserve utxo(s)", added)
			}
		}
	}
}

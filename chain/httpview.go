package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPView queries a REST-style chain indexer (address outputs, rune
// balances, transaction/outspend lookups, broadcast), retrying transient
// failures with exponential backoff: 1s, 2s, 4s, capped at 10s, up to 3
// retries.
type HTTPView struct {
	baseURL string
	client  *http.Client
}

func NewHTTPView(baseURL string) *HTTPView {
	return &HTTPView{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

const maxRetries = 3

func backoffDelay(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func (v *HTTPView) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
		if err != nil {
			return err
		}

		resp, err := v.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("chain view: %s returned %d", path, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("chain view: %s returned %d: %s", path, resp.StatusCode, body)
		}

		if out == nil {
			return nil
		}
		return json.Unmarshal(body, out)
	}
	return fmt.Errorf("chain view: %s failed after %d retries: %w", path, maxRetries, lastErr)
}

func (v *HTTPView) AddressOutputs(ctx context.Context, address string) (AddressOutputs, error) {
	var out AddressOutputs
	err := v.getJSON(ctx, "/address/"+url.PathEscape(address)+"/outputs", &out)
	return out, err
}

func (v *HTTPView) OutputDetails(ctx context.Context, txid string, vout uint32) (OutputDetails, error) {
	var out OutputDetails
	path := fmt.Sprintf("/tx/%s/output/%d", url.PathEscape(txid), vout)
	err := v.getJSON(ctx, path, &out)
	return out, err
}

func (v *HTTPView) Transaction(ctx context.Context, txid string) (TransactionStatus, error) {
	var out struct {
		Status TransactionStatus `json:"status"`
	}
	err := v.getJSON(ctx, "/tx/"+url.PathEscape(txid), &out)
	return out.Status, err
}

func (v *HTTPView) Outspend(ctx context.Context, txid string, vout uint32) (OutspendStatus, error) {
	var out OutspendStatus
	path := fmt.Sprintf("/tx/%s/outspend/%d", url.PathEscape(txid), vout)
	err := v.getJSON(ctx, path, &out)
	return out, err
}

func (v *HTTPView) BlockHeight(ctx context.Context) (uint32, error) {
	var out string
	if err := v.getJSON(ctx, "/blocks/tip/height", &out); err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(out, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("chain view: invalid block height %q: %w", out, err)
	}
	return uint32(height), nil
}

func (v *HTTPView) TxHex(ctx context.Context, txid string) (string, error) {
	var out string
	err := v.getJSON(ctx, "/tx/"+url.PathEscape(txid)+"/hex", &out)
	return out, err
}

func (v *HTTPView) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoffDelay(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/tx", strings.NewReader(rawTxHex))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "text/plain")

		resp, err := v.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("chain view: broadcast returned %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("chain view: broadcast rejected: %s", body)
		}
		return string(body), nil
	}
	return "", fmt.Errorf("chain view: broadcast failed after %d retries: %w", maxRetries, lastErr)
}

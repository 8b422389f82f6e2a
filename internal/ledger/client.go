// Package ledger holds the HTTP clients for the marketplace bookkeeping
// services the settlement pipeline notifies after an on-chain commit:
// reward credits and ownership records. Both calls are fire-and-forget
// from the pipeline's point of view.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "X-API-Key"

// Config configures one bookkeeping client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// client is the shared JSON-over-HTTP plumbing.
type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newClient(cfg Config) client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

// postJSON sends one JSON request and fails on any non-2xx answer. Posts
// are not retried; the caller decides whether the call matters enough to
// repeat.
func (c client) postJSON(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// =============================================================================
// Rewards
// =============================================================================

// RewardsClient issues marketplace credit awards.
type RewardsClient struct {
	client
}

// NewRewardsClient creates a rewards service client.
func NewRewardsClient(cfg Config) *RewardsClient {
	return &RewardsClient{client: newClient(cfg)}
}

type awardRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
}

// AwardCredits grants credits to an account. Non-idempotent; the caller
// must not blindly repeat it.
func (c *RewardsClient) AwardCredits(ctx context.Context, account string, amount int64, reason string) error {
	return c.postJSON(ctx, "/v1/credits", awardRequest{
		Account: account,
		Amount:  amount,
		Reason:  reason,
	})
}

// =============================================================================
// Ownership
// =============================================================================

// OwnershipClient records asset ownership changes keyed by the settlement
// transaction reference.
type OwnershipClient struct {
	client
}

// NewOwnershipClient creates an ownership service client.
func NewOwnershipClient(cfg Config) *OwnershipClient {
	return &OwnershipClient{client: newClient(cfg)}
}

type transferRecord struct {
	AssetID  string `json:"asset_id"`
	NewOwner string `json:"new_owner"`
	TxRef    string `json:"tx_ref"`
}

// RecordTransfer persists the asset's new owner.
func (c *OwnershipClient) RecordTransfer(ctx context.Context, assetID, newOwner, txRef string) error {
	return c.postJSON(ctx, "/v1/transfers", transferRecord{
		AssetID:  assetID,
		NewOwner: newOwner,
		TxRef:    txRef,
	})
}

// Package chain provides the network RPC client for the wallet layer:
// balance reads, checkpoint acquisition, transaction submission, and
// confirmation status.
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Client is a JSON-RPC 2.0 client for the settlement network.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// NewClient creates a new network client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Call makes an RPC call to the network node.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// Balance returns an account's balance in minor units.
func (c *Client) Balance(ctx context.Context, account string) (int64, error) {
	result, err := c.Call(ctx, "getbalance", []any{account})
	if err != nil {
		return 0, err
	}

	value := gjson.GetBytes(result, "value")
	if !value.Exists() {
		// Some nodes return the bare integer.
		var bare int64
		if err := json.Unmarshal(result, &bare); err != nil {
			return 0, fmt.Errorf("unexpected balance payload: %s", result)
		}
		return bare, nil
	}
	return value.Int(), nil
}

// LatestCheckpoint returns a recent checkpoint reference with its validity
// horizon.
func (c *Client) LatestCheckpoint(ctx context.Context) (Checkpoint, error) {
	result, err := c.Call(ctx, "getlatestcheckpoint", nil)
	if err != nil {
		return Checkpoint{}, err
	}

	parsed := gjson.ParseBytes(result)
	cp := Checkpoint{
		Reference:        parsed.Get("reference").String(),
		Height:           parsed.Get("height").Uint(),
		ValidUntilHeight: parsed.Get("valid_until_height").Uint(),
	}
	if cp.Reference == "" {
		return Checkpoint{}, fmt.Errorf("checkpoint response missing reference: %s", result)
	}
	return cp, nil
}

// Height returns the current network height.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "getheight", nil)
	if err != nil {
		return 0, err
	}

	var height uint64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, fmt.Errorf("unmarshal height: %w", err)
	}
	return height, nil
}

// Submit broadcasts a signed transaction and returns its id. An RPC-level
// rejection (preflight failure, malformed payload) is returned as *RPCError.
func (c *Client) Submit(ctx context.Context, signedTx []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(signedTx)
	result, err := c.Call(ctx, "sendtransaction", []any{encoded})
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(result, "id").String()
	if id == "" {
		// Bare string result.
		var bare string
		if err := json.Unmarshal(result, &bare); err == nil && bare != "" {
			return bare, nil
		}
		return "", fmt.Errorf("submit response missing transaction id: %s", result)
	}
	return id, nil
}

// codeUnknownTransaction is the node error code for a transaction the
// network has not seen yet.
const codeUnknownTransaction = -32001

// TransactionStatus returns what the network knows about a transaction.
// An unknown transaction is reported as not found, not as an error, because
// a freshly broadcast transaction is invisible until it propagates.
func (c *Client) TransactionStatus(ctx context.Context, txID string) (TxStatus, error) {
	result, err := c.Call(ctx, "gettransactionstatus", []any{txID})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == codeUnknownTransaction {
			return TxStatus{Found: false}, nil
		}
		return TxStatus{}, err
	}

	parsed := gjson.ParseBytes(result)
	return TxStatus{
		Found:     true,
		Confirmed: parsed.Get("confirmed").Bool(),
		ExecError: parsed.Get("exec_error").String(),
	}, nil
}

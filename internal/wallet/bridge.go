package wallet

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// bridgeClient talks to a desktop wallet's local HTTP bridge.
type bridgeClient struct {
	baseURL    string
	httpClient *http.Client

	mu           sync.RWMutex
	capabilities []string
}

func newBridgeClient(baseURL string, timeout time.Duration) *bridgeClient {
	return &bridgeClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// probe checks the bridge status endpoint and caches the advertised signing
// capabilities. The capability set is resolved here, once, at detection
// time so downstream callers always see one normalized signer shape.
func (c *bridgeClient) probe(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/status", nil)
	if err != nil {
		return false, fmt.Errorf("create probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var status struct {
		Capabilities []string `json:"capabilities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("decode status: %w", err)
	}

	c.mu.Lock()
	c.capabilities = status.Capabilities
	c.mu.Unlock()
	return true, nil
}

func (c *bridgeClient) hasCapability(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cap := range c.capabilities {
		if cap == name {
			return true
		}
	}
	return false
}

// post sends a JSON request to the bridge and decodes the JSON response.
// A 403 from the bridge means the user declined the prompt.
func (c *bridgeClient) post(ctx context.Context, op, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return &ErrUserRejected{Op: op}
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("bridge %s failed with status %d: %s", op, resp.StatusCode, msg)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// =============================================================================
// Bridge Provider
// =============================================================================

// bridgeProvider drives a local-bridge wallet through the normalized
// Provider surface.
type bridgeProvider struct {
	id     string
	client *bridgeClient
}

func newBridgeProvider(id string, client *bridgeClient) *bridgeProvider {
	return &bridgeProvider{id: id, client: client}
}

func (p *bridgeProvider) ID() string { return p.id }

func (p *bridgeProvider) Connect(ctx context.Context) (Account, error) {
	var out struct {
		Address string `json:"address"`
	}
	if err := p.client.post(ctx, "connect", "/v1/connect", nil, &out); err != nil {
		return Account{}, err
	}
	if out.Address == "" {
		return Account{}, fmt.Errorf("bridge connect returned no address")
	}
	return Account{Address: out.Address}, nil
}

func (p *bridgeProvider) Disconnect(ctx context.Context) error {
	return p.client.post(ctx, "disconnect", "/v1/disconnect", nil, nil)
}

// Signer returns the capability shape the bridge advertised at detection.
// Wallets that can broadcast themselves get the one-call variant.
func (p *bridgeProvider) Signer() Signer {
	if p.client.hasCapability("sign_and_send") {
		return &bridgeSender{client: p.client}
	}
	return &bridgeSigner{client: p.client}
}

type bridgeSigner struct {
	client *bridgeClient
}

func (s *bridgeSigner) signerCapability() {}

func (s *bridgeSigner) SignTransaction(ctx context.Context, payload []byte) ([]byte, error) {
	req := map[string]string{"payload": base64.StdEncoding.EncodeToString(payload)}
	var out struct {
		Signed string `json:"signed"`
	}
	if err := s.client.post(ctx, "sign", "/v1/sign", req, &out); err != nil {
		return nil, err
	}
	signed, err := base64.StdEncoding.DecodeString(out.Signed)
	if err != nil {
		return nil, fmt.Errorf("decode signed payload: %w", err)
	}
	return signed, nil
}

type bridgeSender struct {
	client *bridgeClient
}

func (s *bridgeSender) signerCapability() {}

func (s *bridgeSender) SignAndSend(ctx context.Context, payload []byte) (string, error) {
	req := map[string]string{"payload": base64.StdEncoding.EncodeToString(payload)}
	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := s.client.post(ctx, "send", "/v1/send", req, &out); err != nil {
		return "", err
	}
	if out.TxID == "" {
		return "", fmt.Errorf("bridge send returned no transaction id")
	}
	return out.TxID, nil
}

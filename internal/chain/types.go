package chain

import (
	"encoding/json"
	"fmt"
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Checkpoint is a recent network reference bounding a transaction's
// validity window.
type Checkpoint struct {
	Reference        string `json:"reference"`
	Height           uint64 `json:"height"`
	ValidUntilHeight uint64 `json:"valid_until_height"`
}

// TxStatus describes what the network knows about a submitted transaction.
type TxStatus struct {
	Found     bool
	Confirmed bool
	// ExecError carries the raw on-chain execution error for a transaction
	// that was accepted but failed during execution.
	ExecError string
}

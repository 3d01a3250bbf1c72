package solana

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// RPCClient is a minimal JSON-RPC client used to cross-check deposit
// transactions against the chain before crediting the ledger.
type RPCClient struct {
	client *resty.Client
}

// NewRPCClient builds a client for the given RPC endpoint.
func NewRPCClient(endpoint string) *RPCClient {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &RPCClient{client: client}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type signatureStatusResult struct {
	Value []*struct {
		Slot               uint64  `json:"slot"`
		Confirmations      *uint64 `json:"confirmations"`
		ConfirmationStatus string  `json:"confirmationStatus"`
		Err                any     `json:"err"`
	} `json:"value"`
}

// TxStatus is the subset of getSignatureStatuses the deposit path cares about.
type TxStatus struct {
	Found     bool
	Finalized bool
	Failed    bool
	Slot      uint64
}

// GetTransactionStatus looks up a transaction signature. searchHistory makes
// the node look beyond its recent status cache, which matters for deposits
// submitted long before the reconcile call.
func (c *RPCClient) GetTransactionStatus(ctx context.Context, txSignature string) (*TxStatus, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getSignatureStatuses",
		Params: []any{
			[]string{txSignature},
			map[string]any{"searchTransactionHistory": true},
		},
	}

	var body struct {
		Result *signatureStatusResult `json:"result"`
		Error  *rpcError              `json:"error"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("")
	if err != nil {
		return nil, errors.Wrap(err, "rpc request failed")
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, errors.Wrap(err, "rpc response decode failed")
	}
	if body.Error != nil {
		return nil, errors.Errorf("rpc error %d: %s", body.Error.Code, body.Error.Message)
	}
	if body.Result == nil || len(body.Result.Value) == 0 || body.Result.Value[0] == nil {
		return &TxStatus{Found: false}, nil
	}

	v := body.Result.Value[0]
	return &TxStatus{
		Found:     true,
		Finalized: v.ConfirmationStatus == "finalized",
		Failed:    v.Err != nil,
		Slot:      v.Slot,
	}, nil
}

package safeapp

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/use-wallet/pkg/errors"
)

const sdkVersion = "7.0.0"

// SafeInfo describes the Safe the app is embedded for.
type SafeInfo struct {
	SafeAddress common.Address   `json:"safeAddress"`
	ChainID     uint64           `json:"chainId"`
	Threshold   int              `json:"threshold"`
	Owners      []common.Address `json:"owners"`
	IsReadOnly  bool             `json:"isReadOnly"`
}

type SignMessageResult struct {
	SafeTxHash string `json:"safeTxHash"`
}

// BaseTransaction is one call proposed to the Safe.
type BaseTransaction struct {
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

type SendTransactionsResult struct {
	SafeTxHash string `json:"safeTxHash"`
}

// SDK is the embedding application's API.
type SDK interface {
	SafeInfo(ctx context.Context) (*SafeInfo, error)
	SignMessage(ctx context.Context, message string) (*SignMessageResult, error)
	SendTransactions(ctx context.Context, txs []BaseTransaction) (*SendTransactionsResult, error)
	RPCCall(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)
}

// Messenger carries one request to the embedding application and returns its data.
type Messenger interface {
	Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// Client implements SDK over a Messenger.
type Client struct {
	messenger Messenger
}

func NewClient(m Messenger) *Client {
	return &Client{messenger: m}
}

func (c *Client) SafeInfo(ctx context.Context) (*SafeInfo, error) {
	var out SafeInfo
	if err := c.call(ctx, "getSafeInfo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SignMessage(ctx context.Context, message string) (*SignMessageResult, error) {
	var out SignMessageResult
	if err := c.call(ctx, "signMessage", map[string]string{"message": message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendTransactions(ctx context.Context, txs []BaseTransaction) (*SendTransactionsResult, error) {
	var out SendTransactionsResult
	if err := c.call(ctx, "sendTransactions", map[string]interface{}{"txs": txs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RPCCall(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	return c.messenger.Send(ctx, "rpcCall", map[string]interface{}{"call": method, "params": params})
}

func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	raw, err := c.messenger.Send(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s response", method)
	}
	return nil
}

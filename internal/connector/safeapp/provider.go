package safeapp

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/pkg/errors"
)

// Provider answers account and chain requests from the Safe info, proposes transactions
// to the Safe and forwards every other call to the embedding application's node.
type Provider struct {
	info *SafeInfo
	sdk  SDK
}

func NewProvider(info *SafeInfo, sdk SDK) *Provider {
	return &Provider{info: info, sdk: sdk}
}

func (p *Provider) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var (
		v   interface{}
		raw json.RawMessage
		err error
	)
	switch method {
	case "eth_accounts", "eth_requestAccounts":
		v = []common.Address{p.info.SafeAddress}
	case "eth_chainId":
		v = hexutil.EncodeUint64(p.info.ChainID)
	case "net_version":
		v = strconv.FormatUint(p.info.ChainID, 10)
	case "eth_sendTransaction":
		v, err = p.sendTransaction(ctx, args)
	case "personal_sign", "eth_sign":
		v, err = p.signMessage(ctx, method, args)
	default:
		raw, err = p.sdk.RPCCall(ctx, method, args)
	}
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if raw == nil {
		if raw, err = json.Marshal(v); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, result)
}

func (p *Provider) sendTransaction(ctx context.Context, args []interface{}) (string, error) {
	if len(args) == 0 {
		return "", errors.New("eth_sendTransaction without transaction")
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return "", errors.Wrap(err, "encode transaction")
	}
	tx := gjson.ParseBytes(data)
	value := tx.Get("value").String()
	if value == "" {
		value = "0x0"
	}
	input := tx.Get("data").String()
	if input == "" {
		input = tx.Get("input").String()
	}
	if input == "" {
		input = "0x"
	}
	res, err := p.sdk.SendTransactions(ctx, []BaseTransaction{{To: tx.Get("to").String(), Value: value, Data: input}})
	if err != nil {
		return "", err
	}
	return res.SafeTxHash, nil
}

// signMessage serves provider-level signature requests through the SDK. personal_sign
// carries the message first, eth_sign carries the address first.
func (p *Provider) signMessage(ctx context.Context, method string, args []interface{}) (string, error) {
	idx := 0
	if method == "eth_sign" {
		idx = 1
	}
	if len(args) <= idx {
		return "", errors.Errorf("%s without message", method)
	}
	msg, ok := args[idx].(string)
	if !ok {
		return "", errors.Errorf("%s message must be a string", method)
	}
	res, err := p.sdk.SignMessage(ctx, msg)
	if err != nil {
		return "", err
	}
	return res.SafeTxHash, nil
}

var _ connector.Provider = (*Provider)(nil)

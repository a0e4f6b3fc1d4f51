package contracts

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/pkg/errors"
)

// providerCaller serves bound contract reads from a wallet provider.
type providerCaller struct {
	provider connector.Provider
}

func blockArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}

func toCallArg(msg ethereum.CallMsg) map[string]interface{} {
	arg := map[string]interface{}{"to": msg.To}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Bytes(msg.Data)
	}
	if msg.From != (common.Address{}) {
		arg["from"] = msg.From
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	return arg
}

func (c *providerCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	var code hexutil.Bytes
	err := c.provider.CallContext(ctx, &code, "eth_getCode", contract, blockArg(blockNumber))
	return code, err
}

func (c *providerCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out hexutil.Bytes
	err := c.provider.CallContext(ctx, &out, "eth_call", toCallArg(msg), blockArg(blockNumber))
	return out, err
}

// Receipt is the part of a transaction receipt the facade reports.
type Receipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
}

// Succeeded reports a status 1 receipt.
func (r *Receipt) Succeeded() bool { return r.Status == 1 }

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

// transact asks the wallet to send the transaction and waits until it is mined.
func transact(ctx context.Context, p connector.Provider, poll time.Duration, tx sendTxArgs) (*Receipt, error) {
	var hash common.Hash
	if err := p.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return nil, err
	}
	return waitMined(ctx, p, poll, hash)
}

// waitMined polls for the receipt of hash. A reverted transaction is returned with an
// error alongside its receipt.
func waitMined(ctx context.Context, p connector.Provider, poll time.Duration, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		var receipt *Receipt
		if err := p.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
			return nil, err
		}
		if receipt != nil {
			if !receipt.Succeeded() {
				return receipt, errors.Errorf("transaction %s reverted", hash.Hex())
			}
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

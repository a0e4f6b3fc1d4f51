package contracts

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/connector/connectortest"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	addrs   = Addresses{
		WETH:    common.HexToAddress("0xc778417E063141139Fce010982780140Aa0cD5Ab"),
		Greeter: common.HexToAddress("0x0087EB397af9E04Ff9872199d63F841474bf2A27"),
	}
	oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// callData returns the calldata of an eth_call request.
func callData(args []interface{}) []byte {
	return args[0].(map[string]interface{})["data"].(hexutil.Bytes)
}

func TestUnits(t *testing.T) {
	assert.Equal(t, "1.5", WeiToEther(new(big.Int).Mul(big.NewInt(15), new(big.Int).Div(oneEther, big.NewInt(10)))).String())
	assert.Equal(t, "0", WeiToEther(nil).String())
	assert.Equal(t, 0, EtherToWei(decimal.RequireFromString("2")).Cmp(new(big.Int).Mul(big.NewInt(2), oneEther)))
	assert.Equal(t, "1", EtherToWei(decimal.RequireFromString("0.0000000000000000019")).String())
}

func TestTokenBalanceAndAllowance(t *testing.T) {
	p := connectortest.NewProvider()
	p.Handle("eth_call", func(args []interface{}) (interface{}, error) {
		data := callData(args)
		switch {
		case bytes.Equal(data[:4], wethABI.Methods["balanceOf"].ID):
			out, _ := wethABI.Methods["balanceOf"].Outputs.Pack(new(big.Int).Mul(big.NewInt(3), oneEther))
			return hexutil.Bytes(out), nil
		case bytes.Equal(data[:4], wethABI.Methods["allowance"].ID):
			out, _ := wethABI.Methods["allowance"].Outputs.Pack(new(big.Int).Div(oneEther, big.NewInt(2)))
			return hexutil.Bytes(out), nil
		}
		return nil, &connector.ProviderError{Code: -32000, Message: "execution reverted"}
	})
	var observed []string
	f := New(p, common.Address{}, addrs).WithObserver(func(contract, method string, err error) {
		observed = append(observed, contract+"."+method)
	})

	balance, err := f.TokenBalance(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "3", balance.String())

	allowance, err := f.Allowance(context.Background(), owner, spender)
	require.NoError(t, err)
	assert.Equal(t, "0.5", allowance.String())
	assert.Equal(t, []string{"weth.balanceOf", "weth.allowance"}, observed)

	calls := p.CallsTo("eth_call")
	require.Len(t, calls, 2)
	assert.Equal(t, "latest", calls[0].Args[1])
}

func TestReadErrorsPassThrough(t *testing.T) {
	p := connectortest.NewProvider().Fails("eth_call", -32000, "header not found")
	f := New(p, owner, addrs)

	_, err := f.Greeting(context.Background())
	var pe *connector.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "header not found", pe.Message)
}

func TestGreeting(t *testing.T) {
	p := connectortest.NewProvider()
	p.Handle("eth_call", func(args []interface{}) (interface{}, error) {
		out, _ := greeterABI.Methods["greet"].Outputs.Pack("Hello, Hardhat!")
		return hexutil.Bytes(out), nil
	})
	greeting, err := New(p, owner, addrs).Greeting(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello, Hardhat!", greeting)
}

func minedProvider(status uint64) (*connectortest.Provider, *[]map[string]interface{}) {
	var sent []map[string]interface{}
	polls := 0
	p := connectortest.NewProvider()
	p.Handle("eth_sendTransaction", func(args []interface{}) (interface{}, error) {
		raw := args[0].(sendTxArgs)
		tx := map[string]interface{}{"from": raw.From, "to": *raw.To, "data": []byte(raw.Data)}
		if raw.Value != nil {
			tx["value"] = raw.Value.ToInt()
		}
		sent = append(sent, tx)
		return common.HexToHash("0xabc"), nil
	})
	p.Handle("eth_getTransactionReceipt", func(args []interface{}) (interface{}, error) {
		polls++
		if polls < 2 {
			return nil, nil
		}
		return map[string]interface{}{
			"transactionHash": common.HexToHash("0xabc"),
			"blockNumber":     "0x10",
			"status":          hexutil.EncodeUint64(status),
			"gasUsed":         "0x5208",
		}, nil
	})
	return p, &sent
}

func TestDepositWaitsUntilMined(t *testing.T) {
	p, sent := minedProvider(1)
	f := New(p, owner, addrs).WithPollInterval(time.Millisecond)

	receipt, err := f.Deposit(context.Background(), decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, int64(16), receipt.BlockNumber.ToInt().Int64())
	assert.Len(t, p.CallsTo("eth_getTransactionReceipt"), 2)

	require.Len(t, *sent, 1)
	tx := (*sent)[0]
	assert.Equal(t, owner, tx["from"])
	assert.Equal(t, addrs.WETH, tx["to"])
	assert.Equal(t, wethABI.Methods["deposit"].ID, tx["data"])
	assert.Equal(t, "100000000000000000", tx["value"].(*big.Int).String())
}

func TestApproveAndSetGreeting(t *testing.T) {
	p, sent := minedProvider(1)
	f := New(p, owner, addrs).WithPollInterval(time.Millisecond)

	_, err := f.Approve(context.Background(), spender, decimal.NewFromInt(1))
	require.NoError(t, err)
	data := (*sent)[0]["data"].([]byte)
	args, err := wethABI.Methods["approve"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, spender, args[0])
	assert.Equal(t, 0, args[1].(*big.Int).Cmp(oneEther))
	assert.NotContains(t, (*sent)[0], "value")

	p2, sent2 := minedProvider(1)
	_, err = New(p2, owner, addrs).WithPollInterval(time.Millisecond).SetGreeting(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, addrs.Greeter, (*sent2)[0]["to"])
}

func TestRevertedTransaction(t *testing.T) {
	p, _ := minedProvider(0)
	receipt, err := New(p, owner, addrs).WithPollInterval(time.Millisecond).Withdraw(context.Background(), decimal.NewFromInt(1))
	require.Error(t, err)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Succeeded())
}

func TestWritesNeedSigner(t *testing.T) {
	f := New(connectortest.NewProvider(), common.Address{}, addrs)
	_, err := f.Deposit(context.Background(), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNoSigner)
	_, err = f.SignMessage(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	account := crypto.PubkeyToAddress(key.PublicKey)
	p := connectortest.NewProvider()
	p.Handle("personal_sign", func(args []interface{}) (interface{}, error) {
		msg, err := hexutil.Decode(args[0].(string))
		if err != nil {
			return nil, err
		}
		sig, err := crypto.Sign(accounts.TextHash(msg), key)
		if err != nil {
			return nil, err
		}
		sig[crypto.RecoveryIDOffset] += 27
		return hexutil.Bytes(sig), nil
	})

	sig, err := New(p, account, addrs).SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.True(t, VerifySignature(account, sig, []byte("hello")))
	assert.False(t, VerifySignature(account, sig, []byte("hello!")))
	assert.False(t, VerifySignature(owner, sig, []byte("hello")))
	assert.False(t, VerifySignature(account, "0x1234", []byte("hello")))

	calls := p.CallsTo("personal_sign")
	require.Len(t, calls, 1)
	assert.Equal(t, "0x68656c6c6f", calls[0].Args[0])
}

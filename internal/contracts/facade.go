// Package contracts calls the two demo contracts through the connected wallet: a wrapped
// ether token and a greeter. Reads go through eth_call on the provider, writes are sent
// by the wallet and awaited until mined. Errors of the underlying calls are returned as is.
package contracts

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/pkg/errors"
)

// ErrNoSigner is returned by writes on a facade without an account.
var ErrNoSigner = errors.New("no signer for transactions")

// DefaultPollInterval between receipt queries while waiting for a transaction.
const DefaultPollInterval = 2 * time.Second

type Addresses struct {
	WETH    common.Address
	Greeter common.Address
}

// Observer is told about every contract call outcome.
type Observer func(contract, method string, err error)

type Facade struct {
	provider connector.Provider
	account  common.Address
	poll     time.Duration
	observe  Observer

	weth        *bind.BoundContract
	wethAddr    common.Address
	greeter     *bind.BoundContract
	greeterAddr common.Address
}

// New binds the demo contracts to provider. account signs the writes.
func New(provider connector.Provider, account common.Address, addrs Addresses) *Facade {
	caller := &providerCaller{provider: provider}
	return &Facade{
		provider:    provider,
		account:     account,
		poll:        DefaultPollInterval,
		observe:     func(string, string, error) {},
		weth:        bind.NewBoundContract(addrs.WETH, wethABI, caller, nil, nil),
		wethAddr:    addrs.WETH,
		greeter:     bind.NewBoundContract(addrs.Greeter, greeterABI, caller, nil, nil),
		greeterAddr: addrs.Greeter,
	}
}

// WithPollInterval sets how often receipts are queried.
func (f *Facade) WithPollInterval(d time.Duration) *Facade {
	f.poll = d
	return f
}

func (f *Facade) WithObserver(o Observer) *Facade {
	if o != nil {
		f.observe = o
	}
	return f
}

func (f *Facade) Account() common.Address { return f.account }

func (f *Facade) Provider() connector.Provider { return f.provider }

func (f *Facade) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	err := f.weth.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	f.observe("weth", method, err)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// TokenBalance returns the wrapped ether balance of owner.
func (f *Facade) TokenBalance(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	wei, err := f.callUint(ctx, "balanceOf", owner)
	if err != nil {
		return decimal.Zero, err
	}
	return WeiToEther(wei), nil
}

// Allowance returns how much spender may move from owner.
func (f *Facade) Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	wei, err := f.callUint(ctx, "allowance", owner, spender)
	if err != nil {
		return decimal.Zero, err
	}
	return WeiToEther(wei), nil
}

func (f *Facade) send(ctx context.Context, contract string, to common.Address, parsed abi.ABI, value *big.Int, method string, args ...interface{}) (*Receipt, error) {
	if f.account == (common.Address{}) {
		return nil, ErrNoSigner
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		f.observe(contract, method, err)
		return nil, err
	}
	tx := sendTxArgs{From: f.account, To: &to, Data: data}
	if value != nil && value.Sign() > 0 {
		tx.Value = (*hexutil.Big)(value)
	}
	receipt, err := transact(ctx, f.provider, f.poll, tx)
	f.observe(contract, method, err)
	return receipt, err
}

func (f *Facade) Approve(ctx context.Context, spender common.Address, amount decimal.Decimal) (*Receipt, error) {
	return f.send(ctx, "weth", f.wethAddr, wethABI, nil, "approve", spender, EtherToWei(amount))
}

// Deposit wraps amount of native currency.
func (f *Facade) Deposit(ctx context.Context, amount decimal.Decimal) (*Receipt, error) {
	return f.send(ctx, "weth", f.wethAddr, wethABI, EtherToWei(amount), "deposit")
}

// Withdraw unwraps amount back to native currency.
func (f *Facade) Withdraw(ctx context.Context, amount decimal.Decimal) (*Receipt, error) {
	return f.send(ctx, "weth", f.wethAddr, wethABI, nil, "withdraw", EtherToWei(amount))
}

func (f *Facade) Greeting(ctx context.Context) (string, error) {
	var out []interface{}
	err := f.greeter.Call(&bind.CallOpts{Context: ctx}, &out, "greet")
	f.observe("greeter", "greet", err)
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (f *Facade) SetGreeting(ctx context.Context, greeting string) (*Receipt, error) {
	return f.send(ctx, "greeter", f.greeterAddr, greeterABI, nil, "setGreeting", greeting)
}

// SignMessage signs message with the facade's account through the provider.
func (f *Facade) SignMessage(ctx context.Context, message []byte) (string, error) {
	if f.account == (common.Address{}) {
		return "", ErrNoSigner
	}
	return SignMessage(ctx, f.provider, f.account, message)
}

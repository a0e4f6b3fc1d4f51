package connector

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/pkg/errors"
)

// RequestAccounts prompts the wallet for account access (eth_requestAccounts).
func RequestAccounts(ctx context.Context, p Provider) ([]common.Address, error) {
	return accounts(ctx, p, "eth_requestAccounts")
}

// Accounts returns the already authorized accounts without prompting (eth_accounts).
func Accounts(ctx context.Context, p Provider) ([]common.Address, error) {
	return accounts(ctx, p, "eth_accounts")
}

func accounts(ctx context.Context, p Provider, method string) ([]common.Address, error) {
	var out []common.Address
	if err := p.CallContext(ctx, &out, method); err != nil {
		return nil, errors.Wrap(err, method)
	}
	return out, nil
}

func ChainID(ctx context.Context, p Provider) (uint64, error) {
	var out hexutil.Uint64
	if err := p.CallContext(ctx, &out, "eth_chainId"); err != nil {
		return 0, errors.Wrap(err, "eth_chainId")
	}
	return uint64(out), nil
}

type switchChainParameter struct {
	ChainID string `json:"chainId"`
}

// SwitchChain moves the wallet to desired. A wallet that does not recognize the chain
// is asked to add it with the table's parameters, then to switch again. Chains with
// only basic information cannot be added and the switch failure is returned.
func SwitchChain(ctx context.Context, p Provider, table chains.Table, desired uint64) error {
	err := p.CallContext(ctx, nil, "wallet_switchEthereumChain", switchChainParameter{ChainID: hexutil.EncodeUint64(desired)})
	if err == nil {
		return nil
	}
	if IsUserRejected(err) {
		return errors.Wrap(ErrUserRejected, err.Error())
	}
	params, ok := table.AddChainParameters(desired)
	if !IsUnrecognizedChain(err) || !ok {
		return errors.Wrapf(err, "switch to chain %d", desired)
	}
	if err := p.CallContext(ctx, nil, "wallet_addEthereumChain", params); err != nil {
		if IsUserRejected(err) {
			return errors.Wrap(ErrUserRejected, err.Error())
		}
		return errors.Wrapf(err, "add chain %d", desired)
	}
	if err := p.CallContext(ctx, nil, "wallet_switchEthereumChain", switchChainParameter{ChainID: params.ChainID}); err != nil {
		return errors.Wrapf(err, "switch to added chain %d", desired)
	}
	return nil
}

// ConnectProvider runs the request-accounts protocol shared by provider-based wallets:
// accounts and chain are read, then the wallet is moved to desired when it is on another
// chain. The returned connection reflects the final chain.
func ConnectProvider(ctx context.Context, p Provider, table chains.Table, desired uint64) (*Connection, error) {
	accounts, err := RequestAccounts(ctx, p)
	if err != nil {
		if IsUserRejected(err) {
			return nil, errors.Wrap(ErrUserRejected, err.Error())
		}
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	current, err := ChainID(ctx, p)
	if err != nil {
		return nil, err
	}
	if desired != 0 && desired != current {
		if err := SwitchChain(ctx, p, table, desired); err != nil {
			return nil, err
		}
		if current, err = ChainID(ctx, p); err != nil {
			return nil, err
		}
	}
	return &Connection{Account: accounts[0], ChainID: current, Provider: p}, nil
}

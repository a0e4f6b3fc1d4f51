// Package smartwallet connects the SDK-provided smart wallet (Coinbase Wallet style).
// The SDK exposes a regular provider, so activation follows the request-accounts and
// switch-or-add-chain protocol of extension wallets. The SDK renders its own pairing UI
// on mobile, so there is no deep link fallback.
package smartwallet

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

// Options configure the SDK provider.
type Options struct {
	// Endpoint of the SDK relay the wallet is reached through.
	Endpoint string
	// URL is the fallback JSON-RPC url chain reads are served from while the wallet is
	// on ChainID.
	URL string
	// ChainID is the chain URL serves, mainnet when zero.
	ChainID uint64
	AppName string
}

// ReadDialer connects to the fallback read url.
type ReadDialer func(ctx context.Context, url string) (connector.Provider, error)

func dialRead(ctx context.Context, url string) (connector.Provider, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "dial smart wallet read url")
	}
	return c, nil
}

// Factory creates the SDK provider.
type Factory func(ctx context.Context, opts Options) (connector.Provider, error)

// RPCFactory dials the SDK relay endpoint and identifies the app to it.
func RPCFactory(ctx context.Context, opts Options) (connector.Provider, error) {
	if opts.Endpoint == "" {
		return nil, connector.ErrProviderNotFound
	}
	c, err := rpc.DialContext(ctx, opts.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "dial smart wallet sdk")
	}
	if opts.AppName != "" {
		c.SetHeader("X-App-Name", opts.AppName)
	}
	return c, nil
}

type Adapter struct {
	connector.Emitter

	opts     Options
	factory  Factory
	dialRead ReadDialer
	table    chains.Table
	logger   log.Entry

	mu       sync.Mutex
	provider *Provider
}

func New(opts Options, factory Factory, table chains.Table) *Adapter {
	if opts.ChainID == 0 {
		opts.ChainID = 1
	}
	return &Adapter{
		opts:     opts,
		factory:  factory,
		dialRead: dialRead,
		table:    table,
		logger:   log.WithField("connector", connector.SmartWallet),
	}
}

// WithReadDialer replaces how the fallback read url is dialed.
func (a *Adapter) WithReadDialer(d ReadDialer) *Adapter {
	a.dialRead = d
	return a
}

func (a *Adapter) ID() connector.ID { return connector.SmartWallet }

func (a *Adapter) sdkProvider(ctx context.Context) (*Provider, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider == nil {
		sdk, err := a.factory(ctx, a.opts)
		if err != nil {
			return nil, err
		}
		a.provider = &Provider{sdk: sdk, url: a.opts.URL, urlChain: a.opts.ChainID, dial: a.dialRead}
	}
	return a.provider, nil
}

func (a *Adapter) Activate(ctx context.Context, chainID uint64) (*connector.Connection, error) {
	p, err := a.sdkProvider(ctx)
	if err != nil {
		return nil, connector.NewActivationError(connector.SmartWallet, err)
	}
	conn, err := connector.ConnectProvider(ctx, p, a.table, chainID)
	if err != nil {
		a.logger.Warnf("activation failed: %v", err)
		return nil, connector.NewActivationError(connector.SmartWallet, err)
	}
	p.setChain(conn.ChainID)
	return conn, nil
}

// Deactivate closes the SDK session. The wallet forgets this page so the next activation
// pairs again.
func (a *Adapter) Deactivate(ctx context.Context) {
	a.mu.Lock()
	p := a.provider
	a.provider = nil
	a.mu.Unlock()
	if p == nil {
		return
	}
	if err := p.CallContext(ctx, nil, "wallet_disconnect"); err != nil {
		a.logger.Debugf("disconnect: %v", err)
	}
	connector.CloseProvider(p)
}

func (a *Adapter) ConnectEagerly(ctx context.Context) *connector.Connection {
	p, err := a.sdkProvider(ctx)
	if err != nil {
		return nil
	}
	accounts, err := connector.Accounts(ctx, p)
	if err != nil || len(accounts) == 0 {
		return nil
	}
	chainID, err := connector.ChainID(ctx, p)
	if err != nil {
		return nil
	}
	p.setChain(chainID)
	return &connector.Connection{Account: accounts[0], ChainID: chainID, Provider: p}
}

func (a *Adapter) Provider() connector.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider == nil {
		return nil
	}
	return a.provider
}

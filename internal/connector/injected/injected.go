// Package injected connects the browser-extension wallet. The extension is reached over
// its JSON-RPC endpoint; an empty or unreachable endpoint means it is not installed.
package injected

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/host"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

// Dialer locates the injected provider.
type Dialer func(ctx context.Context) (connector.Provider, error)

// RPCDialer dials the extension's endpoint with go-ethereum's rpc client.
func RPCDialer(endpoint string) Dialer {
	return func(ctx context.Context) (connector.Provider, error) {
		if endpoint == "" {
			return nil, connector.ErrProviderNotFound
		}
		c, err := rpc.DialContext(ctx, endpoint)
		if err != nil {
			return nil, errors.Wrap(connector.ErrProviderNotFound, err.Error())
		}
		return c, nil
	}
}

type Adapter struct {
	connector.Emitter

	dial     Dialer
	env      host.Environment
	table    chains.Table
	deepLink string
	logger   log.Entry

	mu       sync.Mutex
	provider connector.Provider
}

// New builds the injected adapter. deepLink is the wallet's mobile dapp link prefix, the
// page origin is appended to it.
func New(dial Dialer, env host.Environment, table chains.Table, deepLink string) *Adapter {
	return &Adapter{
		dial:     dial,
		env:      env,
		table:    table,
		deepLink: deepLink,
		logger:   log.WithField("connector", connector.Injected),
	}
}

func (a *Adapter) ID() connector.ID { return connector.Injected }

func (a *Adapter) Activate(ctx context.Context, chainID uint64) (*connector.Connection, error) {
	p, err := a.detect(ctx)
	if err != nil {
		env := host.FromContext(ctx, a.env)
		if errors.Is(err, connector.ErrProviderNotFound) && env.Mobile() && a.deepLink != "" {
			link := a.deepLink + env.Origin()
			a.logger.Infof("no injected provider on mobile, redirecting to %s", link)
			return nil, connector.NewRedirectError(connector.Injected, connector.ErrRedirected, link)
		}
		return nil, connector.NewActivationError(connector.Injected, err)
	}
	conn, err := connector.ConnectProvider(ctx, p, a.table, chainID)
	if err != nil {
		a.logger.Warnf("activation failed: %v", err)
		return nil, connector.NewActivationError(connector.Injected, err)
	}
	a.logger.Debugf("activated account %s on chain %d", conn.Account.Hex(), conn.ChainID)
	return conn, nil
}

func (a *Adapter) detect(ctx context.Context) (connector.Provider, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider != nil {
		return a.provider, nil
	}
	p, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	a.provider = p
	return p, nil
}

func (a *Adapter) Deactivate(context.Context) {
	a.mu.Lock()
	p := a.provider
	a.provider = nil
	a.mu.Unlock()
	if p != nil {
		connector.CloseProvider(p)
	}
}

// ConnectEagerly restores the session when the extension already authorized this page.
func (a *Adapter) ConnectEagerly(ctx context.Context) *connector.Connection {
	p, err := a.detect(ctx)
	if err != nil {
		a.logger.Debugf("eager connect skipped: %v", err)
		return nil
	}
	accounts, err := connector.Accounts(ctx, p)
	if err != nil || len(accounts) == 0 {
		a.logger.Debugf("eager connect found no authorized account: %v", err)
		return nil
	}
	chainID, err := connector.ChainID(ctx, p)
	if err != nil {
		a.logger.Debugf("eager connect chain id: %v", err)
		return nil
	}
	return &connector.Connection{Account: accounts[0], ChainID: chainID, Provider: p}
}

func (a *Adapter) Provider() connector.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.provider
}

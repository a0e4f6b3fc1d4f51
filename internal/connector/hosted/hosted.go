// Package hosted connects a hosted session wallet whose SDK keeps at most one live
// session per process.
package hosted

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

// Wallet is one SDK session.
type Wallet interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Disconnect()
	Address(ctx context.Context) (common.Address, error)
	ChainID(ctx context.Context) (uint64, error)
	Provider() connector.Provider
}

// WalletFactory opens a new SDK session defaulting to chainID (0 for the SDK default).
type WalletFactory func(chainID uint64) Wallet

type Adapter struct {
	connector.Emitter

	newWallet WalletFactory
	logger    log.Entry

	mu     sync.Mutex
	wallet Wallet
}

func New(newWallet WalletFactory) *Adapter {
	return &Adapter{
		newWallet: newWallet,
		logger:    log.WithField("connector", connector.HostedWallet),
	}
}

func (a *Adapter) ID() connector.ID { return connector.HostedWallet }

// Activate replaces any live session with a new one. When the session connects but the
// account or chain cannot be read, the connection is returned with PendingErr set and
// the session is not rolled back.
func (a *Adapter) Activate(ctx context.Context, chainID uint64) (*connector.Connection, error) {
	a.mu.Lock()
	if a.wallet != nil {
		a.logger.Debugf("closing previous session")
		a.wallet.Disconnect()
	}
	w := a.newWallet(chainID)
	a.wallet = w
	a.mu.Unlock()

	err := w.Connect(ctx)
	if err == nil && !a.holds(w) {
		// replaced or deactivated while connecting
		w.Disconnect()
		err = ErrSessionClosed
	}
	if err != nil {
		a.logger.Warnf("connect failed: %v", err)
		if connector.IsUserRejected(err) {
			err = errors.Wrap(connector.ErrUserRejected, err.Error())
		}
		return nil, connector.NewActivationError(connector.HostedWallet, err)
	}
	p := w.Provider()
	if p == nil {
		return nil, connector.NewActivationError(connector.HostedWallet, connector.ErrProviderNotFound)
	}
	account, chain, err := fetch(ctx, w)
	if err != nil {
		a.logger.Warnf("connected but reading the session failed: %v", err)
		return &connector.Connection{Provider: p, PendingErr: err}, nil
	}
	return &connector.Connection{Account: account, ChainID: chain, Provider: p}, nil
}

func (a *Adapter) holds(w Wallet) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wallet == w
}

// fetch reads account and chain concurrently.
func fetch(ctx context.Context, w Wallet) (common.Address, uint64, error) {
	var (
		wg       sync.WaitGroup
		account  common.Address
		chainID  uint64
		addrErr  error
		chainErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		account, addrErr = w.Address(ctx)
	}()
	go func() {
		defer wg.Done()
		chainID, chainErr = w.ChainID(ctx)
	}()
	wg.Wait()
	if addrErr != nil {
		return common.Address{}, 0, errors.Wrap(addrErr, "get address")
	}
	if chainErr != nil {
		return common.Address{}, 0, errors.Wrap(chainErr, "get chain id")
	}
	return account, chainID, nil
}

func (a *Adapter) Deactivate(context.Context) {
	a.mu.Lock()
	w := a.wallet
	a.wallet = nil
	a.mu.Unlock()
	if w != nil {
		w.Disconnect()
	}
}

// ConnectEagerly reuses a session that is still connected in this process.
func (a *Adapter) ConnectEagerly(ctx context.Context) *connector.Connection {
	a.mu.Lock()
	w := a.wallet
	a.mu.Unlock()
	if w == nil || !w.IsConnected() {
		return nil
	}
	account, chainID, err := fetch(ctx, w)
	if err != nil {
		return nil
	}
	return &connector.Connection{Account: account, ChainID: chainID, Provider: w.Provider()}
}

func (a *Adapter) Provider() connector.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wallet == nil {
		return nil
	}
	return a.wallet.Provider()
}

package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/contracts"
)

// reactivateTimeout bounds the re-activation a transient contract call error triggers.
const reactivateTimeout = 30 * time.Second

// Facades hands out the contract facade of the current provider. A facade is built
// fresh whenever the provider or account changes.
type Facades struct {
	session *Session
	addrs   contracts.Addresses
	poll    time.Duration

	mu       sync.Mutex
	id       connector.ID
	provider connector.Provider
	account  common.Address
	facade   *contracts.Facade
}

func NewFacades(s *Session, addrs contracts.Addresses, poll time.Duration) *Facades {
	if poll <= 0 {
		poll = contracts.DefaultPollInterval
	}
	f := &Facades{session: s, addrs: addrs, poll: poll}
	s.dispatcher.Subscribe(func(Change) { f.invalidate() })
	return f
}

func (f *Facades) invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facade = nil
	f.provider = nil
}

// Current returns the facade bound to the connected provider.
func (f *Facades) Current() (*contracts.Facade, error) {
	id, provider, account, ok := f.session.Current()
	if !ok || provider == nil {
		return nil, connector.ErrNotActive
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.facade != nil && f.id == id && f.provider == provider && f.account == account {
		return f.facade, nil
	}
	f.id, f.provider, f.account = id, provider, account
	f.facade = contracts.New(provider, account, f.addrs).
		WithPollInterval(f.poll).
		WithObserver(f.observe(id))
	return f.facade, nil
}

// observe records contract calls of connector id. A transient failure is reported to
// the session in the background so the failing call returns without waiting for the
// re-activation.
func (f *Facades) observe(id connector.ID) func(contract, method string, err error) {
	return func(contract, method string, err error) {
		f.session.metrics.RecordContractCall(contract, method, err)
		if !connector.IsTransient(err) {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), reactivateTimeout)
			defer cancel()
			f.session.ReportError(ctx, id, err)
		}()
	}
}

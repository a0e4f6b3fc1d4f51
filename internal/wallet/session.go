// Package wallet owns the wallet session: which connector is current, the connected
// account and chain, the last error and the native balance. It is the only writer of
// that state; readers take snapshots or subscribe to changes.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
	"moff.io/use-wallet/internal/cache"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/contracts"
	"moff.io/use-wallet/internal/metrics"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

var (
	ErrUnknownConnector = errors.New("unknown connector")
	// ErrSuperseded is returned by an activation whose result was discarded because
	// another activate or deactivate happened meanwhile.
	ErrSuperseded = errors.New("activation superseded")
)

type State int

const (
	Disconnected State = iota
	Activating
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Activating:
		return "activating"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// SessionError is an error attributed to the connector it happened with.
type SessionError struct {
	ID  connector.ID
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) ConnectorID() string { return e.ID.String() }

type Options struct {
	Registry    *connector.Registry
	Preferences cache.PreferenceStore
	Chains      chains.Table
	Dispatcher  *Dispatcher
	Metrics     *metrics.WalletMetrics
}

type Session struct {
	registry   *connector.Registry
	prefs      cache.PreferenceStore
	table      chains.Table
	dispatcher *Dispatcher
	metrics    *metrics.WalletMetrics

	// generation is bumped by every activate and deactivate. Adapter results carrying an
	// older generation are stale.
	generation atomic.Uint64

	mu       sync.Mutex
	state    State
	current  connector.ID
	desired  uint64
	account  common.Address
	chainID  uint64
	provider connector.Provider
	balance  *big.Int
	lastErr  error
	// retried holds the connector and message of the transient error already answered
	// with a re-activation. Cleared by user activate, deactivate and the next balance
	// read that succeeds.
	retried string
}

// NewSession builds a session over opts.Registry. Without opts.Dispatcher the session
// delivers changes through a dispatcher of its own, running for the process lifetime.
func NewSession(opts Options) *Session {
	if opts.Dispatcher == nil {
		opts.Dispatcher = NewDispatcher(0)
		opts.Dispatcher.Start(context.Background())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewWalletMetrics()
	}
	if opts.Preferences == nil {
		opts.Preferences = cache.NewMemoryStore()
	}
	s := &Session{
		registry:   opts.Registry,
		prefs:      opts.Preferences,
		table:      opts.Chains,
		dispatcher: opts.Dispatcher,
		metrics:    opts.Metrics,
	}
	for _, e := range opts.Registry.Entries() {
		id := e.ID
		e.Adapter.OnEvent(func(ev connector.Event) { s.handleEvent(id, ev) })
	}
	return s
}

func (s *Session) Dispatcher() *Dispatcher { return s.dispatcher }

func (s *Session) Registry() *connector.Registry { return s.registry }

// Activate makes id the current connector and runs its activation protocol. Whatever
// was current before is torn down first. chainID 0 leaves the chain to the wallet.
// Failures are returned as *SessionError and kept as the session error.
func (s *Session) Activate(ctx context.Context, id connector.ID, chainID uint64) error {
	return s.activate(ctx, id, chainID, true)
}

func (s *Session) activate(ctx context.Context, id connector.ID, chainID uint64, user bool) error {
	entry, ok := s.registry.Get(id)
	if !ok {
		return errors.Wrap(ErrUnknownConnector, string(id))
	}

	s.mu.Lock()
	gen := s.generation.Inc()
	prev := s.current
	s.current = id
	s.state = Activating
	s.desired = chainID
	s.clearLocked()
	s.lastErr = nil
	if user {
		s.retried = ""
	}
	s.mu.Unlock()

	log.Infof("wallet session - activating %s (chain %d)", id, chainID)
	if prev != "" {
		s.teardown(ctx, prev)
	}
	s.dispatcher.Publish(Change{Connector: id})

	start := time.Now()
	conn, err := entry.Adapter.Activate(ctx, chainID)
	s.metrics.RecordActivation(id.String(), time.Since(start), err)

	s.mu.Lock()
	if s.generation.Load() != gen {
		current := s.current
		s.mu.Unlock()
		if err == nil && current != id {
			log.Infof("wallet session - discarding stale %s session", id)
			entry.Adapter.Deactivate(ctx)
		}
		return ErrSuperseded
	}
	if err != nil {
		failure := &SessionError{ID: id, Err: err}
		s.state = Failed
		s.lastErr = failure
		s.mu.Unlock()
		log.Warnf("wallet session - activate %s: %v", id, err)
		return failure
	}
	s.state = Connected
	s.account = conn.Account
	s.chainID = conn.ChainID
	s.provider = conn.Provider
	if conn.PendingErr != nil {
		s.lastErr = &SessionError{ID: id, Err: conn.PendingErr}
		log.Warnf("wallet session - %s connected with pending error: %v", id, conn.PendingErr)
	}
	change := s.changeLocked()
	s.mu.Unlock()

	log.Infof("wallet session - connected %s account=%s chain=%d", id, strings.ToLower(conn.Account.Hex()), conn.ChainID)
	s.metrics.RecordConnected(id.String())
	if err := s.prefs.SaveLastConnector(ctx, id.String()); err != nil {
		log.Warnf("wallet session - save last connector: %v", err)
	}
	s.dispatcher.Publish(change)
	return nil
}

// Deactivate tears the current connector down and clears the session.
func (s *Session) Deactivate(ctx context.Context) {
	s.mu.Lock()
	s.generation.Inc()
	id := s.current
	s.current = ""
	s.state = Disconnected
	s.desired = 0
	s.clearLocked()
	s.lastErr = nil
	s.retried = ""
	s.mu.Unlock()

	if id == "" {
		return
	}
	log.Infof("wallet session - deactivating %s", id)
	s.teardown(ctx, id)
	s.dispatcher.Publish(Change{})
}

func (s *Session) teardown(ctx context.Context, id connector.ID) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return
	}
	entry.Adapter.Deactivate(ctx)
	s.metrics.RecordDeactivation(id.String())
}

// ConnectEagerly silently restores the last used connector, the injected one when none
// was saved. Failures leave the session disconnected without an error.
func (s *Session) ConnectEagerly(ctx context.Context) {
	id := connector.Injected
	saved, err := s.prefs.LastConnector(ctx)
	if err != nil {
		log.Warnf("wallet session - read last connector: %v", err)
	} else if saved != "" {
		if parsed, err := connector.ParseID(saved); err == nil {
			id = parsed
		} else {
			log.Warnf("wallet session - ignoring saved connector: %v", err)
		}
	}
	entry, ok := s.registry.Get(id)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.current != "" {
		s.mu.Unlock()
		return
	}
	gen := s.generation.Inc()
	s.current = id
	s.state = Activating
	s.mu.Unlock()

	conn := entry.Adapter.ConnectEagerly(ctx)

	s.mu.Lock()
	if s.generation.Load() != gen {
		s.mu.Unlock()
		return
	}
	if !conn.HasAccount() {
		s.current = ""
		s.state = Disconnected
		s.mu.Unlock()
		log.Debugf("wallet session - no %s session to restore", id)
		return
	}
	s.state = Connected
	s.account = conn.Account
	s.chainID = conn.ChainID
	s.provider = conn.Provider
	change := s.changeLocked()
	s.mu.Unlock()

	log.Infof("wallet session - restored %s account=%s chain=%d", id, strings.ToLower(conn.Account.Hex()), conn.ChainID)
	s.metrics.RecordConnected(id.String())
	s.dispatcher.Publish(change)
}

// ReportError attributes err to connector id. Errors of a connector that is not current
// are dropped. A transient chain error re-activates the current connector once; the
// same error again is kept as the session error.
func (s *Session) ReportError(ctx context.Context, id connector.ID, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if id != s.current {
		s.mu.Unlock()
		log.Debugf("wallet session - dropping error of %s: %v", id, err)
		return
	}
	if connector.IsTransient(err) {
		key := id.String() + "|" + err.Error()
		if s.retried != key {
			s.retried = key
			chainID := s.desired
			s.mu.Unlock()
			log.Warnf("wallet session - %s: %v, re-activating", id, err)
			s.metrics.RecordTransientRetry(id.String())
			s.activate(ctx, id, chainID, false)
			return
		}
	}
	s.lastErr = &SessionError{ID: id, Err: err}
	s.mu.Unlock()
	log.Warnf("wallet session - %s: %v", id, err)
}

func (s *Session) handleEvent(id connector.ID, ev connector.Event) {
	switch ev.Kind {
	case connector.EventError:
		s.ReportError(context.Background(), id, ev.Err)
	case connector.EventUpdate:
		s.mu.Lock()
		if id != s.current || s.state != Connected {
			s.mu.Unlock()
			return
		}
		if ev.Account == (common.Address{}) || ev.ChainID == 0 {
			s.mu.Unlock()
			return
		}
		if ev.Account != s.account {
			s.balance = nil
		}
		s.account = ev.Account
		s.chainID = ev.ChainID
		change := s.changeLocked()
		s.mu.Unlock()
		log.Infof("wallet session - %s switched to account=%s chain=%d", id, strings.ToLower(ev.Account.Hex()), ev.ChainID)
		s.dispatcher.Publish(change)
	case connector.EventDisconnect:
		s.mu.Lock()
		if id != s.current {
			s.mu.Unlock()
			return
		}
		s.generation.Inc()
		s.current = ""
		s.state = Disconnected
		s.clearLocked()
		s.mu.Unlock()
		log.Infof("wallet session - %s disconnected", id)
		s.metrics.RecordDeactivation(id.String())
		s.dispatcher.Publish(Change{})
	}
}

func (s *Session) clearLocked() {
	s.account = common.Address{}
	s.chainID = 0
	s.provider = nil
	s.balance = nil
}

func (s *Session) changeLocked() Change {
	return Change{
		Connector: s.current,
		Active:    s.state == Connected,
		Account:   s.account,
		ChainID:   s.chainID,
		Provider:  s.provider,
	}
}

// Sign signs message with the current connector. Connectors with their own signer sign
// through it; the others through a personal_sign request on the provider. A wallet
// rejection is returned as connector.ErrUserRejected.
func (s *Session) Sign(ctx context.Context, message []byte) (string, error) {
	s.mu.Lock()
	id, state, provider, account := s.current, s.state, s.provider, s.account
	s.mu.Unlock()
	if state != Connected || provider == nil {
		return "", connector.ErrNotActive
	}
	entry, _ := s.registry.Get(id)

	var (
		sig string
		err error
	)
	if entry.Signer != nil {
		sig, err = entry.Signer.SignMessage(ctx, message)
	} else {
		sig, err = contracts.SignMessage(ctx, provider, account, message)
	}
	s.metrics.RecordSignature(id.String(), err)
	if err != nil {
		if connector.IsUserRejected(err) {
			return "", errors.Wrap(connector.ErrUserRejected, err.Error())
		}
		return "", err
	}
	return sig, nil
}

// setBalance stores a balance fetched for account on chainID, unless the session moved on.
func (s *Session) setBalance(account common.Address, chainID uint64, wei *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.account != account || s.chainID != chainID {
		return false
	}
	s.balance = wei
	s.retried = ""
	return true
}

// Current returns the connector id, provider and account of a connected session.
func (s *Session) Current() (connector.ID, connector.Provider, common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return s.current, nil, common.Address{}, false
	}
	return s.current, s.provider, s.account, true
}

// Package connector defines the contract every wallet connection protocol implements,
// the provider handle downstream calls are routed through, and the fixed registry of
// adapters the session state machine selects from.
package connector

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/use-wallet/pkg/errors"
)

// ID identifies a connector for lookup, persistence and labeling.
type ID string

const (
	Injected     ID = "injected"
	RelaySession ID = "relay_session"
	HostedWallet ID = "hosted_wallet"
	SmartWallet  ID = "smart_wallet"
	SafeApp      ID = "safe_app"
)

// IDs lists every connector id in presentation order.
var IDs = []ID{Injected, RelaySession, SmartWallet, HostedWallet, SafeApp}

func ParseID(s string) (ID, error) {
	id := ID(strings.TrimSpace(s))
	for _, known := range IDs {
		if id == known {
			return id, nil
		}
	}
	return "", errors.Errorf("unknown connector %q", s)
}

func (id ID) String() string { return string(id) }

// Provider is the raw request handle of a connected wallet. *rpc.Client from
// go-ethereum satisfies it, so do the relay, hosted and embedded providers.
type Provider interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Connection is what a successful activation yields. Account and ChainID are either
// both set or, when PendingErr is set, both zero.
type Connection struct {
	Account  common.Address
	ChainID  uint64
	Provider Provider
	// PendingErr is reported when the session was established but reading the
	// account or chain failed afterwards. The session is kept.
	PendingErr error
}

func (c *Connection) HasAccount() bool {
	return c != nil && c.ChainID != 0 && c.Account != (common.Address{})
}

// Adapter is one connection protocol.
type Adapter interface {
	ID() ID
	// Activate suspends until the wallet is connected or the attempt failed. chainID 0
	// leaves the chain up to the wallet. Failures are *ActivationError.
	Activate(ctx context.Context, chainID uint64) (*Connection, error)
	// Deactivate tears the session down. It is best-effort and never fails.
	Deactivate(ctx context.Context)
	// ConnectEagerly silently restores a previous session, returning nil when there is none.
	ConnectEagerly(ctx context.Context) *Connection
	// Provider returns the live provider or nil.
	Provider() Provider
	// OnEvent registers fn for asynchronous account, chain, error and disconnect events.
	OnEvent(fn func(Event))
}

// MessageSigner is implemented by adapters that sign through their own SDK instead of a
// provider-level signature request.
type MessageSigner interface {
	SignMessage(ctx context.Context, message []byte) (string, error)
}

type EventKind int

const (
	EventUpdate EventKind = iota
	EventError
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventUpdate:
		return "update"
	case EventError:
		return "error"
	case EventDisconnect:
		return "disconnect"
	}
	return "unknown"
}

// Event is pushed by an adapter outside of Activate/Deactivate, e.g. when the wallet
// switches account or the relay drops.
type Event struct {
	Kind    EventKind
	Account common.Address
	ChainID uint64
	Err     error
}

// Emitter is embedded by adapters to fan events out to registered handlers.
type Emitter struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

func (e *Emitter) OnEvent(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := append([]func(Event){}, e.handlers...)
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

type closer interface {
	Close()
}

// CloseProvider releases p if it holds a connection.
func CloseProvider(p Provider) {
	if c, ok := p.(closer); ok {
		c.Close()
	}
}

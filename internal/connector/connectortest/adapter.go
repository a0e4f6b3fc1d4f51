package connectortest

import (
	"context"
	"sync"

	"moff.io/use-wallet/internal/connector"
)

// Adapter is a scripted connector.Adapter that tracks whether it holds a live session.
type Adapter struct {
	connector.Emitter

	id connector.ID

	mu sync.Mutex
	// ActivateFn runs on Activate; the default connects Result.
	ActivateFn func(ctx context.Context, chainID uint64) (*connector.Connection, error)
	// EagerFn runs on ConnectEagerly; the default returns nil.
	EagerFn func(ctx context.Context) *connector.Connection

	activations   []uint64
	deactivations int
	eagerCalls    int
	active        bool
	provider      connector.Provider
}

func NewAdapter(id connector.ID) *Adapter {
	return &Adapter{id: id}
}

// Connects scripts Activate to succeed with conn.
func (a *Adapter) Connects(conn *connector.Connection) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ActivateFn = func(context.Context, uint64) (*connector.Connection, error) { return conn, nil }
	return a
}

// Fails scripts Activate to fail with err wrapped as an activation error.
func (a *Adapter) Fails(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.id
	a.ActivateFn = func(context.Context, uint64) (*connector.Connection, error) {
		return nil, connector.NewActivationError(id, err)
	}
	return a
}

func (a *Adapter) ID() connector.ID { return a.id }

func (a *Adapter) Activate(ctx context.Context, chainID uint64) (*connector.Connection, error) {
	a.mu.Lock()
	a.activations = append(a.activations, chainID)
	fn := a.ActivateFn
	a.mu.Unlock()
	if fn == nil {
		return nil, connector.NewActivationError(a.id, connector.ErrProviderNotFound)
	}
	conn, err := fn(ctx, chainID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.active = true
	a.provider = conn.Provider
	a.mu.Unlock()
	return conn, nil
}

func (a *Adapter) Deactivate(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deactivations++
	a.active = false
	a.provider = nil
}

func (a *Adapter) ConnectEagerly(ctx context.Context) *connector.Connection {
	a.mu.Lock()
	a.eagerCalls++
	fn := a.EagerFn
	a.mu.Unlock()
	if fn == nil {
		return nil
	}
	conn := fn(ctx)
	if conn != nil {
		a.mu.Lock()
		a.active = true
		a.provider = conn.Provider
		a.mu.Unlock()
	}
	return conn
}

func (a *Adapter) Provider() connector.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.provider
}

// Active reports whether the adapter holds a session that was not torn down.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Adapter) Activations() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.activations...)
}

func (a *Adapter) Deactivations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deactivations
}

func (a *Adapter) EagerCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eagerCalls
}

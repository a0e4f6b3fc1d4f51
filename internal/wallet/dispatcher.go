package wallet

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/pkg/log"
)

// Change is published whenever the connector, account, chain or provider of the session
// changes. Active is false after a teardown.
type Change struct {
	Connector connector.ID
	Active    bool
	Account   common.Address
	ChainID   uint64
	Provider  connector.Provider
}

// Dispatcher delivers changes to subscribers from a single goroutine, in publish order.
type Dispatcher struct {
	pipeline chan func()
	started  atomic.Bool

	mu          sync.RWMutex
	nextID      int
	subscribers map[int]func(Change)
}

func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		pipeline:    make(chan func(), size),
		subscribers: map[int]func(Change){},
	}
}

// Subscribe registers fn and returns its cancel function.
func (d *Dispatcher) Subscribe(fn func(Change)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subscribers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subscribers, id)
	}
}

func (d *Dispatcher) Publish(c Change) {
	d.enqueue(func() {
		d.mu.RLock()
		subs := make([]func(Change), 0, len(d.subscribers))
		for _, fn := range d.subscribers {
			subs = append(subs, fn)
		}
		d.mu.RUnlock()
		for _, fn := range subs {
			fn(c)
		}
	})
}

func (d *Dispatcher) enqueue(fn func()) {
	d.pipeline <- fn
}

// Sync waits until every change published before it was delivered.
func (d *Dispatcher) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case d.pipeline <- func() { close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the delivery loop until ctx is done. Only the first call starts it.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CAS(false, true) {
		return
	}
	go d.start(ctx)
}

func (d *Dispatcher) start(ctx context.Context) {
	log.Info("Session event dispatcher running...")
	defer log.Info("Session event dispatcher stopped...")
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.pipeline:
			fn()
		}
	}
}

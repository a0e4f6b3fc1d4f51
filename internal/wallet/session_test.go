package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/use-wallet/internal/cache"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/connector/connectortest"
	"moff.io/use-wallet/internal/contracts"
	"moff.io/use-wallet/pkg/errors"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000BB")
)

type safeSigner struct {
	mu     sync.Mutex
	signed [][]byte
	err    error
}

func (s *safeSigner) SignMessage(_ context.Context, message []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.signed = append(s.signed, message)
	return "0xsafetxhash", nil
}

type fixture struct {
	session  *Session
	prefs    *cache.MemoryStore
	adapters map[connector.ID]*connectortest.Adapter
	signer   *safeSigner
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		prefs:    cache.NewMemoryStore(),
		adapters: map[connector.ID]*connectortest.Adapter{},
		signer:   &safeSigner{},
	}
	var entries []connector.Entry
	for _, id := range connector.IDs {
		a := connectortest.NewAdapter(id)
		f.adapters[id] = a
		e := connector.Entry{Info: connector.Info{ID: id, Name: string(id)}, Adapter: a}
		if id == connector.SafeApp {
			e.Signer = f.signer
		}
		entries = append(entries, e)
	}
	registry, err := connector.NewRegistry(entries...)
	require.NoError(t, err)
	dispatcher := NewDispatcher(0)
	f.session = NewSession(Options{Registry: registry, Preferences: f.prefs, Chains: chains.Default(), Dispatcher: dispatcher})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dispatcher.Start(ctx)
	return f
}

func connection(account common.Address, chainID uint64, p connector.Provider) *connector.Connection {
	if p == nil {
		p = connectortest.NewProvider()
	}
	return &connector.Connection{Account: account, ChainID: chainID, Provider: p}
}

func (f *fixture) activeAdapters() []connector.ID {
	var out []connector.ID
	for _, id := range connector.IDs {
		if f.adapters[id].Active() {
			out = append(out, id)
		}
	}
	return out
}

func TestActivateConnects(t *testing.T) {
	f := newFixture(t)
	f.adapters[connector.Injected].Connects(connection(alice, 4, nil))

	require.NoError(t, f.session.Activate(context.Background(), connector.Injected, 4))
	snap := f.session.Snapshot()
	assert.True(t, snap.IsActive)
	assert.Equal(t, "connected", snap.Status)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", snap.Account)
	assert.Equal(t, uint64(4), snap.ChainID)
	require.NotNil(t, snap.Chain)
	assert.Equal(t, "Rinkeby", snap.Chain.Name)
	assert.Equal(t, connector.Injected, snap.Connector.ID)
	assert.Empty(t, snap.Error)
	assert.Equal(t, []uint64{4}, f.adapters[connector.Injected].Activations())
}

func TestActivateUnknownConnector(t *testing.T) {
	f := newFixture(t)
	err := f.session.Activate(context.Background(), connector.ID("ledger"), 0)
	assert.ErrorIs(t, err, ErrUnknownConnector)
	assert.Equal(t, "disconnected", f.session.Snapshot().Status)
}

func TestRapidActivationsLeaveOneCurrent(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	injected := f.adapters[connector.Injected]
	injected.ActivateFn = func(context.Context, uint64) (*connector.Connection, error) {
		<-release
		return connection(alice, 1, nil), nil
	}
	f.adapters[connector.SafeApp].Connects(connection(bob, 4, nil))

	slow := make(chan error, 1)
	go func() { slow <- f.session.Activate(context.Background(), connector.Injected, 0) }()
	require.Eventually(t, func() bool { return len(injected.Activations()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.session.Activate(context.Background(), connector.SafeApp, 0))
	close(release)
	assert.ErrorIs(t, <-slow, ErrSuperseded)

	assert.Equal(t, []connector.ID{connector.SafeApp}, f.activeAdapters())
	snap := f.session.Snapshot()
	assert.Equal(t, connector.SafeApp, snap.Connector.ID)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", snap.Account)
	saved, _ := f.prefs.LastConnector(context.Background())
	assert.Equal(t, "safe_app", saved)
}

func TestActivateTearsDownPrevious(t *testing.T) {
	f := newFixture(t)
	f.adapters[connector.Injected].Connects(connection(alice, 1, nil))
	f.adapters[connector.RelaySession].Connects(connection(bob, 1, nil))

	require.NoError(t, f.session.Activate(context.Background(), connector.Injected, 0))
	require.NoError(t, f.session.Activate(context.Background(), connector.RelaySession, 0))
	assert.Equal(t, 1, f.adapters[connector.Injected].Deactivations())
	assert.Equal(t, []connector.ID{connector.RelaySession}, f.activeAdapters())
}

func TestFailedActivation(t *testing.T) {
	f := newFixture(t)
	f.adapters[connector.Injected].Connects(connection(alice, 1, nil))
	f.adapters[connector.Injected].Fails(connector.ErrProviderNotFound)

	err := f.session.Activate(context.Background(), connector.Injected, 0)
	var se *SessionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, connector.Injected, se.ID)
	var ae *connector.ActivationError
	assert.True(t, errors.As(err, &ae))

	snap := f.session.Snapshot()
	assert.False(t, snap.IsActive)
	assert.Equal(t, "failed", snap.Status)
	assert.Empty(t, snap.Account)
	assert.Zero(t, snap.ChainID)
	assert.Nil(t, snap.Chain)
	assert.Equal(t, connector.Injected, snap.ErrorConnector)
	assert.Contains(t, snap.Error, "no wallet provider found")
}

func TestPreferencePersistedOnlyOnSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapters[connector.SmartWallet].Connects(connection(alice, 1, nil))
	f.adapters[connector.SafeApp].Fails(connector.ErrNotEmbedded)

	require.NoError(t, f.session.Activate(ctx, connector.SmartWallet, 0))
	saved, _ := f.prefs.LastConnector(ctx)
	assert.Equal(t, "smart_wallet", saved)

	assert.Error(t, f.session.Activate(ctx, connector.SafeApp, 0))
	saved, _ = f.prefs.LastConnector(ctx)
	assert.Equal(t, "smart_wallet", saved)
}

func TestPendingErrorKeepsSession(t *testing.T) {
	f := newFixture(t)
	p := connectortest.NewProvider()
	f.adapters[connector.HostedWallet].Connects(&connector.Connection{Provider: p, PendingErr: errors.New("get address: timeout")})

	require.NoError(t, f.session.Activate(context.Background(), connector.HostedWallet, 0))
	snap := f.session.Snapshot()
	assert.True(t, snap.IsActive)
	assert.Empty(t, snap.Account)
	assert.Zero(t, snap.ChainID)
	assert.Equal(t, connector.HostedWallet, snap.ErrorConnector)
	assert.Contains(t, snap.Error, "timeout")
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t)
	f.adapters[connector.Injected].Connects(connection(alice, 1, nil))
	require.NoError(t, f.session.Activate(context.Background(), connector.Injected, 0))

	f.session.Deactivate(context.Background())
	snap := f.session.Snapshot()
	assert.Equal(t, "disconnected", snap.Status)
	assert.Nil(t, snap.Connector)
	assert.Empty(t, snap.Account)
	assert.Empty(t, f.activeAdapters())

	f.session.Deactivate(context.Background())
	assert.Equal(t, 1, f.adapters[connector.Injected].Deactivations())
}

func TestConnectEagerly(t *testing.T) {
	t.Run("defaults to injected", func(t *testing.T) {
		f := newFixture(t)
		f.session.ConnectEagerly(context.Background())
		assert.Equal(t, 1, f.adapters[connector.Injected].EagerCalls())
		snap := f.session.Snapshot()
		assert.Equal(t, "disconnected", snap.Status)
		assert.Empty(t, snap.Error)
	})
	t.Run("restores saved connector", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.prefs.SaveLastConnector(context.Background(), "relay_session"))
		f.adapters[connector.RelaySession].EagerFn = func(context.Context) *connector.Connection {
			return connection(bob, 1, nil)
		}
		f.session.ConnectEagerly(context.Background())
		snap := f.session.Snapshot()
		assert.True(t, snap.IsActive)
		assert.Equal(t, connector.RelaySession, snap.Connector.ID)
		assert.Zero(t, f.adapters[connector.Injected].EagerCalls())
	})
	t.Run("garbage preference falls back", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.prefs.SaveLastConnector(context.Background(), "ledger"))
		f.session.ConnectEagerly(context.Background())
		assert.Equal(t, 1, f.adapters[connector.Injected].EagerCalls())
		assert.Empty(t, f.session.Snapshot().Error)
	})
}

func TestTransientErrorRetriesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	injected := f.adapters[connector.Injected].Connects(connection(alice, 137, nil))
	require.NoError(t, f.session.Activate(ctx, connector.Injected, 137))

	transient := &connector.ProviderError{Code: connector.CodeChainDisconnected, Message: "chain disconnected"}
	f.session.ReportError(ctx, connector.Injected, transient)
	assert.Equal(t, []uint64{137, 137}, injected.Activations())
	assert.True(t, f.session.Snapshot().IsActive)
	assert.Empty(t, f.session.Snapshot().Error)

	f.session.ReportError(ctx, connector.Injected, transient)
	assert.Len(t, injected.Activations(), 2)
	assert.Contains(t, f.session.Snapshot().Error, "chain disconnected")

	// a user activation re-arms the retry
	require.NoError(t, f.session.Activate(ctx, connector.Injected, 137))
	f.session.ReportError(ctx, connector.Injected, transient)
	assert.Len(t, injected.Activations(), 4)
}

func TestBalanceRefreshRearmsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := connectortest.NewProvider().Returns("eth_getBalance", "0x1")
	injected := f.adapters[connector.Injected].Connects(connection(alice, 1, p))
	require.NoError(t, f.session.Activate(ctx, connector.Injected, 1))

	transient := &connector.ProviderError{Code: connector.CodeChainDisconnected, Message: "chain disconnected"}
	f.session.ReportError(ctx, connector.Injected, transient)
	require.Len(t, injected.Activations(), 2)

	require.NoError(t, NewBalanceWatcher(f.session, 0).Refresh(ctx))
	f.session.ReportError(ctx, connector.Injected, transient)
	assert.Len(t, injected.Activations(), 3)
	assert.Empty(t, f.session.Snapshot().Error)
}

func TestErrorsOfOtherConnectorsAreDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapters[connector.Injected].Connects(connection(alice, 1, nil))
	require.NoError(t, f.session.Activate(ctx, connector.Injected, 0))

	f.session.ReportError(ctx, connector.RelaySession, errors.New("relay timeout"))
	f.adapters[connector.RelaySession].Emit(connector.Event{Kind: connector.EventError, Err: errors.New("relay down")})
	assert.Empty(t, f.session.Snapshot().Error)

	f.session.ReportError(ctx, connector.Injected, errors.New("nonce too low"))
	assert.Contains(t, f.session.Snapshot().Error, "nonce too low")
}

func TestAdapterEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	relay := f.adapters[connector.RelaySession].Connects(connection(alice, 1, nil))
	require.NoError(t, f.session.Activate(ctx, connector.RelaySession, 0))

	relay.Emit(connector.Event{Kind: connector.EventUpdate, Account: bob, ChainID: 4})
	snap := f.session.Snapshot()
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", snap.Account)
	assert.Equal(t, uint64(4), snap.ChainID)

	relay.Emit(connector.Event{Kind: connector.EventDisconnect})
	snap = f.session.Snapshot()
	assert.False(t, snap.IsActive)
	assert.Empty(t, snap.Account)
	assert.Zero(t, snap.ChainID)
}

func TestSignRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("safe app signs through its sdk", func(t *testing.T) {
		f := newFixture(t)
		p := connectortest.NewProvider().Returns("personal_sign", "0xprovider")
		f.adapters[connector.SafeApp].Connects(connection(alice, 4, p))
		require.NoError(t, f.session.Activate(ctx, connector.SafeApp, 0))

		sig, err := f.session.Sign(ctx, []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "0xsafetxhash", sig)
		assert.Empty(t, p.CallsTo("personal_sign"))
		assert.Len(t, f.signer.signed, 1)
	})
	t.Run("others sign through the provider", func(t *testing.T) {
		f := newFixture(t)
		p := connectortest.NewProvider().Returns("personal_sign", "0x1234")
		f.adapters[connector.Injected].Connects(connection(alice, 1, p))
		require.NoError(t, f.session.Activate(ctx, connector.Injected, 0))

		sig, err := f.session.Sign(ctx, []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "0x1234", sig)
		calls := p.CallsTo("personal_sign")
		require.Len(t, calls, 1)
		assert.Equal(t, "0x68656c6c6f", calls[0].Args[0])
		assert.Equal(t, "0x00000000000000000000000000000000000000aa", calls[0].Args[1])
		assert.Empty(t, f.signer.signed)
	})
	t.Run("rejection", func(t *testing.T) {
		f := newFixture(t)
		p := connectortest.NewProvider().Fails("personal_sign", connector.CodeUserRejected, "User denied message signature.")
		f.adapters[connector.Injected].Connects(connection(alice, 1, p))
		require.NoError(t, f.session.Activate(ctx, connector.Injected, 0))

		_, err := f.session.Sign(ctx, []byte("hello"))
		assert.ErrorIs(t, err, connector.ErrUserRejected)
	})
	t.Run("not connected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.session.Sign(ctx, []byte("hello"))
		assert.ErrorIs(t, err, connector.ErrNotActive)
	})
}

func TestBalanceRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := connectortest.NewProvider().Returns("eth_getBalance", "0xde0b6b3a7640000")
	f.adapters[connector.Injected].Connects(connection(alice, 1, p))
	require.NoError(t, f.session.Activate(ctx, connector.Injected, 0))

	w := NewBalanceWatcher(f.session, 0)
	require.NoError(t, w.Refresh(ctx))
	snap := f.session.Snapshot()
	require.NotNil(t, snap.Balance)
	assert.Equal(t, "1", snap.Balance.String())

	calls := p.CallsTo("eth_getBalance")
	require.Len(t, calls, 1)
	assert.Equal(t, alice, calls[0].Args[0])

	f.adapters[connector.Injected].Emit(connector.Event{Kind: connector.EventUpdate, Account: bob, ChainID: 1})
	assert.Nil(t, f.session.Snapshot().Balance)
	assert.False(t, f.session.setBalance(alice, 1, contracts.EtherToWei(*snap.Balance)))
}

func TestBalanceWatcherFollowsChanges(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := connectortest.NewProvider().Returns("eth_getBalance", "0x1bc16d674ec80000")
	f.adapters[connector.Injected].Connects(connection(alice, 1, p))
	NewBalanceWatcher(f.session, time.Hour).Start(ctx)

	require.NoError(t, f.session.Activate(ctx, connector.Injected, 0))
	require.Eventually(t, func() bool {
		b := f.session.Snapshot().Balance
		return b != nil && b.String() == "2"
	}, 5*time.Second, 5*time.Millisecond)
}

func TestFacades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	facades := NewFacades(f.session, contracts.Addresses{}, time.Millisecond)

	_, err := facades.Current()
	assert.ErrorIs(t, err, connector.ErrNotActive)

	f.adapters[connector.Injected].Connects(connection(alice, 1, nil))
	require.NoError(t, f.session.Activate(ctx, connector.Injected, 0))
	first, err := facades.Current()
	require.NoError(t, err)
	assert.Equal(t, alice, first.Account())
	again, err := facades.Current()
	require.NoError(t, err)
	assert.Same(t, first, again)

	f.adapters[connector.Injected].Emit(connector.Event{Kind: connector.EventUpdate, Account: bob, ChainID: 1})
	second, err := facades.Current()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, bob, second.Account())
}

func TestTransientContractErrorReactivatesInBackground(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	injected := f.adapters[connector.Injected].Connects(connection(alice, 1, nil))
	require.NoError(t, f.session.Activate(ctx, connector.Injected, 1))

	deadlines := make(chan bool)
	injected.ActivateFn = func(ctx context.Context, _ uint64) (*connector.Connection, error) {
		_, ok := ctx.Deadline()
		deadlines <- ok
		return connection(alice, 1, nil), nil
	}
	facades := NewFacades(f.session, contracts.Addresses{}, 0)
	transient := &connector.ProviderError{Code: connector.CodeChainDisconnected, Message: "chain disconnected"}
	facades.observe(connector.Injected)("weth", "balanceOf", transient)

	select {
	case ok := <-deadlines:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("connector was not re-activated")
	}
	require.Eventually(t, func() bool { return f.session.Snapshot().IsActive }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 1}, injected.Activations())
}

func TestNewSessionStartsDefaultDispatcher(t *testing.T) {
	a := connectortest.NewAdapter(connector.Injected)
	registry, err := connector.NewRegistry(connector.Entry{Info: connector.Info{ID: connector.Injected}, Adapter: a})
	require.NoError(t, err)
	s := NewSession(Options{Registry: registry, Chains: chains.Default()})

	changes := make(chan Change, 4)
	s.Dispatcher().Subscribe(func(c Change) { changes <- c })
	a.Connects(connection(alice, 1, nil))
	require.NoError(t, s.Activate(context.Background(), connector.Injected, 1))
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Active {
				assert.Equal(t, alice, c.Account)
				return
			}
		case <-timeout:
			t.Fatal("change not delivered")
		}
	}
}

func TestDispatcherStartsOnce(t *testing.T) {
	d := NewDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Start(ctx)

	var delivered int
	d.Subscribe(func(Change) { delivered++ })
	d.Publish(Change{ChainID: 1})
	require.NoError(t, d.Sync(ctx))
	assert.Equal(t, 1, delivered)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	var got []uint64
	unsubscribe := d.Subscribe(func(c Change) { got = append(got, c.ChainID) })
	for i := uint64(1); i <= 10; i++ {
		d.Publish(Change{ChainID: i})
	}
	require.NoError(t, d.Sync(ctx))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)

	unsubscribe()
	d.Publish(Change{ChainID: 11})
	require.NoError(t, d.Sync(ctx))
	assert.Len(t, got, 10)
}

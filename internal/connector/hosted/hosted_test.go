package hosted

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/connector/connectortest"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000d4")

type fakeWallet struct {
	mu         sync.Mutex
	chainID    uint64
	connected  bool
	connectErr error
	addrErr    error
	provider   connector.Provider
	// block holds Connect until closed.
	block chan struct{}
}

func (w *fakeWallet) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *fakeWallet) Connect(context.Context) error {
	if w.block != nil {
		<-w.block
	}
	if w.connectErr != nil {
		return w.connectErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	return nil
}

func (w *fakeWallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
}

func (w *fakeWallet) Address(context.Context) (common.Address, error) {
	return account, w.addrErr
}

func (w *fakeWallet) ChainID(context.Context) (uint64, error) { return w.chainID, nil }

func (w *fakeWallet) Provider() connector.Provider { return w.provider }

type recorder struct {
	mu      sync.Mutex
	wallets []*fakeWallet
	next    func(*fakeWallet)
}

func (r *recorder) factory(chainID uint64) Wallet {
	w := &fakeWallet{chainID: chainID, provider: connectortest.NewProvider()}
	if r.next != nil {
		r.next(w)
	}
	r.mu.Lock()
	r.wallets = append(r.wallets, w)
	r.mu.Unlock()
	return w
}

func (r *recorder) created() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wallets)
}

func TestActivateConnects(t *testing.T) {
	r := &recorder{}
	a := New(r.factory)

	conn, err := a.Activate(context.Background(), 137)
	require.NoError(t, err)
	assert.Equal(t, account, conn.Account)
	assert.Equal(t, uint64(137), conn.ChainID)
	assert.NoError(t, conn.PendingErr)
}

func TestActivateReplacesLiveSession(t *testing.T) {
	r := &recorder{}
	a := New(r.factory)

	_, err := a.Activate(context.Background(), 1)
	require.NoError(t, err)
	_, err = a.Activate(context.Background(), 4)
	require.NoError(t, err)

	require.Len(t, r.wallets, 2)
	assert.False(t, r.wallets[0].IsConnected())
	assert.True(t, r.wallets[1].IsConnected())
}

func TestActivateKeepsSessionWhenReadFails(t *testing.T) {
	r := &recorder{next: func(w *fakeWallet) { w.addrErr = stderrors.New("session expired") }}
	a := New(r.factory)

	conn, err := a.Activate(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Error(t, conn.PendingErr)
	assert.False(t, conn.HasAccount())
	assert.NotNil(t, conn.Provider)
	assert.True(t, r.wallets[0].IsConnected())
}

func TestActivateConnectFailure(t *testing.T) {
	r := &recorder{next: func(w *fakeWallet) {
		w.connectErr = &connector.ProviderError{Code: connector.CodeUserRejected, Message: "closed"}
	}}
	a := New(r.factory)

	_, err := a.Activate(context.Background(), 0)
	var ae *connector.ActivationError
	require.ErrorAs(t, err, &ae)
	assert.True(t, connector.IsUserRejected(err))
}

func TestEagerOnlyWithLiveSession(t *testing.T) {
	r := &recorder{}
	a := New(r.factory)
	assert.Nil(t, a.ConnectEagerly(context.Background()))

	_, err := a.Activate(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, a.ConnectEagerly(context.Background()))

	a.Deactivate(context.Background())
	assert.Nil(t, a.ConnectEagerly(context.Background()))
	assert.Nil(t, a.Provider())
}

func TestActivateWhileConnectingLeavesOneSession(t *testing.T) {
	release := make(chan struct{})
	first := true
	r := &recorder{next: func(w *fakeWallet) {
		if first {
			w.block = release
			first = false
		}
	}}
	a := New(r.factory)

	done := make(chan error, 1)
	go func() {
		_, err := a.Activate(context.Background(), 1)
		done <- err
	}()
	require.Eventually(t, func() bool { return r.created() == 1 }, time.Second, 5*time.Millisecond)

	_, err := a.Activate(context.Background(), 4)
	require.NoError(t, err)
	close(release)

	err = <-done
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.False(t, r.wallets[0].IsConnected())
	assert.True(t, r.wallets[1].IsConnected())
}

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// loginServer answers a hosted wallet login. The first eth_requestAccounts waits for
// release.
func loginServer(t *testing.T, entered chan<- struct{}, release <-chan struct{}) *httptest.Server {
	var (
		mu     sync.Mutex
		logins int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		var result interface{}
		switch req.Method {
		case "eth_requestAccounts":
			mu.Lock()
			logins++
			n := logins
			mu.Unlock()
			if n == 1 {
				entered <- struct{}{}
				<-release
			}
			result = []common.Address{account}
		default:
			result = nil
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRPCWalletDisconnectedWhileConnecting(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := loginServer(t, entered, release)

	var (
		mu      sync.Mutex
		wallets []Wallet
	)
	factory := RPCWalletFactory(srv.URL, 0)
	a := New(func(chainID uint64) Wallet {
		w := factory(chainID)
		mu.Lock()
		wallets = append(wallets, w)
		mu.Unlock()
		return w
	})

	done := make(chan error, 1)
	go func() {
		_, err := a.Activate(context.Background(), 0)
		done <- err
	}()
	<-entered

	a.Deactivate(context.Background())
	_, err := a.Activate(context.Background(), 0)
	require.NoError(t, err)
	close(release)
	assert.ErrorIs(t, <-done, ErrSessionClosed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, wallets, 2)
	assert.False(t, wallets[0].IsConnected())
	assert.Nil(t, wallets[0].Provider())
	assert.True(t, wallets[1].IsConnected())
}

package hosted

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/atomic"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/pkg/errors"
)

// RPCWallet is a session with a hosted wallet that speaks JSON-RPC.
type RPCWallet struct {
	endpoint string
	chainID  uint64

	connected atomic.Bool
	mu        sync.Mutex
	client    *rpc.Client
	// closed is set by Disconnect; a Connect still in flight then drops its client.
	closed bool
}

// ErrSessionClosed is returned by a Connect whose session was disconnected meanwhile.
var ErrSessionClosed = errors.New("hosted session closed while connecting")

// RPCWalletFactory opens sessions against endpoint.
func RPCWalletFactory(endpoint string, defaultChainID uint64) WalletFactory {
	return func(chainID uint64) Wallet {
		if chainID == 0 {
			chainID = defaultChainID
		}
		return &RPCWallet{endpoint: endpoint, chainID: chainID}
	}
}

func (w *RPCWallet) IsConnected() bool { return w.connected.Load() }

func (w *RPCWallet) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Connect dials the wallet and asks the user to log in. The default chain is requested
// best-effort.
func (w *RPCWallet) Connect(ctx context.Context) error {
	if w.endpoint == "" {
		return connector.ErrProviderNotFound
	}
	client, err := rpc.DialContext(ctx, w.endpoint)
	if err != nil {
		return errors.Wrap(err, "dial hosted wallet")
	}
	if w.isClosed() {
		client.Close()
		return ErrSessionClosed
	}
	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		client.Close()
		return err
	}
	if len(accounts) == 0 {
		client.Close()
		return connector.ErrNoAccounts
	}
	if w.chainID != 0 {
		_ = client.CallContext(ctx, nil, "wallet_switchEthereumChain", map[string]string{"chainId": hexutil.EncodeUint64(w.chainID)})
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		client.Close()
		return ErrSessionClosed
	}
	w.client = client
	w.connected.Store(true)
	return nil
}

func (w *RPCWallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.connected.Store(false)
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
}

func (w *RPCWallet) Address(ctx context.Context) (common.Address, error) {
	p := w.Provider()
	if p == nil {
		return common.Address{}, connector.ErrNotActive
	}
	accounts, err := connector.Accounts(ctx, p)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, connector.ErrNoAccounts
	}
	return accounts[0], nil
}

func (w *RPCWallet) ChainID(ctx context.Context) (uint64, error) {
	p := w.Provider()
	if p == nil {
		return 0, connector.ErrNotActive
	}
	return connector.ChainID(ctx, p)
}

func (w *RPCWallet) Provider() connector.Provider {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	return w.client
}

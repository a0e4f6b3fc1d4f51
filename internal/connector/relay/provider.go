package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/walletconnect"
	"moff.io/use-wallet/pkg/errors"
)

// Provider answers account and chain requests from the session state, relays wallet
// requests to the paired wallet and sends reads to the session chain's RPC endpoint.
type Provider struct {
	session Session
	dial    Dialer
	rpcURLs map[uint64]string

	mu    sync.Mutex
	reads map[uint64]connector.Provider
}

func walletMethod(method string) bool {
	switch method {
	case "personal_sign", "eth_sign", "eth_sendTransaction", "eth_signTransaction", "eth_sendRawTransaction":
		return true
	}
	return strings.HasPrefix(method, "eth_signTypedData") || strings.HasPrefix(method, "wallet_")
}

func (p *Provider) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	st := p.session.State()
	switch method {
	case "eth_accounts", "eth_requestAccounts":
		return assign(result, st.Accounts)
	case "eth_chainId":
		return assign(result, hexutil.EncodeUint64(st.ChainID))
	case "net_version":
		return assign(result, strconv.FormatUint(st.ChainID, 10))
	}
	if walletMethod(method) {
		return p.relay(ctx, result, method, args)
	}
	read, err := p.read(ctx, st.ChainID)
	if err != nil {
		return err
	}
	if read == nil {
		return p.relay(ctx, result, method, args)
	}
	return read.CallContext(ctx, result, method, args...)
}

func (p *Provider) relay(ctx context.Context, result interface{}, method string, args []interface{}) error {
	err := p.session.Request(ctx, result, method, args...)
	var rpcErr *walletconnect.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Rejected() {
		return &connector.ProviderError{Code: connector.CodeUserRejected, Message: rpcErr.Message}
	}
	if errors.Is(err, walletconnect.ErrNotConnected) || errors.Is(err, walletconnect.ErrSessionClosed) {
		return &connector.ProviderError{Code: connector.CodeDisconnected, Message: err.Error()}
	}
	return err
}

// read returns the RPC connection of chainID, or nil when none is configured.
func (p *Provider) read(ctx context.Context, chainID uint64) (connector.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.reads[chainID]; ok {
		return c, nil
	}
	url, ok := p.rpcURLs[chainID]
	if !ok || url == "" {
		return nil, nil
	}
	c, err := p.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	p.reads[chainID] = c
	return c, nil
}

// Close releases the read connections.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.reads {
		connector.CloseProvider(c)
		delete(p.reads, id)
	}
}

func assign(result, v interface{}) error {
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

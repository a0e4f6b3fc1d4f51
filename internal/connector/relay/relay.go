// Package relay connects wallets through a WalletConnect v1 bridge. The user pairs by
// scanning the session's QR code; wallet requests are relayed over the bridge and reads
// go to the configured RPC endpoint of the session chain.
//
// The chains a session may use are declared at construction. Activating with a chain
// outside that list connects on the default chain instead.
package relay

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/walletconnect"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

// Session is the bridge session the adapter drives. *walletconnect.Session implements it.
type Session interface {
	URI() string
	QRCode(size int) ([]byte, error)
	Connect(ctx context.Context, chainID uint64) (*walletconnect.Approval, error)
	Request(ctx context.Context, result interface{}, method string, params ...interface{}) error
	Kill(ctx context.Context) error
	OnUpdate(fn func(walletconnect.SessionUpdate))
	Connected() bool
	State() walletconnect.SessionUpdate
}

type SessionFactory func() (Session, error)

// BridgeSessions creates sessions on the given bridge.
func BridgeSessions(opts walletconnect.Options) SessionFactory {
	return func() (Session, error) {
		return walletconnect.NewSession(opts)
	}
}

// Dialer opens a read connection to a chain's RPC url.
type Dialer func(ctx context.Context, url string) (connector.Provider, error)

func RPCDialer(ctx context.Context, url string) (connector.Provider, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return c, nil
}

var ErrNoChains = errors.New("relay session needs at least one chain")

type Adapter struct {
	connector.Emitter

	newSession SessionFactory
	dial       Dialer
	chains     []uint64
	rpcURLs    map[uint64]string
	logger     log.Entry

	mu       sync.Mutex
	session  Session
	provider *Provider
}

// New returns an adapter restricted to chainIDs; the first one is the default.
func New(newSession SessionFactory, dial Dialer, chainIDs []uint64, rpcURLs map[uint64]string) (*Adapter, error) {
	if len(chainIDs) == 0 {
		return nil, ErrNoChains
	}
	if dial == nil {
		dial = RPCDialer
	}
	return &Adapter{
		newSession: newSession,
		dial:       dial,
		chains:     append([]uint64(nil), chainIDs...),
		rpcURLs:    rpcURLs,
		logger:     log.WithField("connector", connector.RelaySession),
	}, nil
}

// ReadURLs picks the read endpoint of every chain: the first url the chain table knows,
// replaced by overrides where one is configured.
func ReadURLs(tableURLs map[uint64][]string, overrides map[uint64]string) map[uint64]string {
	out := make(map[uint64]string, len(tableURLs)+len(overrides))
	for id, urls := range tableURLs {
		if len(urls) > 0 && urls[0] != "" {
			out[id] = urls[0]
		}
	}
	for id, url := range overrides {
		if url != "" {
			out[id] = url
		}
	}
	return out
}

func (a *Adapter) ID() connector.ID { return connector.RelaySession }

func (a *Adapter) supported(chainID uint64) bool {
	for _, id := range a.chains {
		if id == chainID {
			return true
		}
	}
	return false
}

func (a *Adapter) Activate(ctx context.Context, chainID uint64) (*connector.Connection, error) {
	if chainID == 0 {
		chainID = a.chains[0]
	} else if !a.supported(chainID) {
		a.logger.Warnf("chain %d is not declared for relay sessions %v, using %d", chainID, a.chains, a.chains[0])
		chainID = a.chains[0]
	}
	a.Deactivate(ctx)

	session, err := a.newSession()
	if err != nil {
		return nil, connector.NewActivationError(connector.RelaySession, err)
	}
	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	a.logger.Infof("waiting for a wallet to pair with %s", session.URI())

	approval, err := session.Connect(ctx, chainID)
	if err != nil {
		a.drop(session)
		if errors.Is(err, walletconnect.ErrSessionRejected) {
			err = errors.Wrap(connector.ErrUserRejected, err.Error())
		}
		return nil, connector.NewActivationError(connector.RelaySession, err)
	}
	p := &Provider{session: session, dial: a.dial, rpcURLs: a.rpcURLs, reads: map[uint64]connector.Provider{}}
	a.mu.Lock()
	if a.session != session {
		a.mu.Unlock()
		p.Close()
		return nil, connector.NewActivationError(connector.RelaySession, walletconnect.ErrSessionClosed)
	}
	a.provider = p
	a.mu.Unlock()
	session.OnUpdate(func(u walletconnect.SessionUpdate) { a.sessionUpdate(session, u) })
	return &connector.Connection{Account: approval.Accounts[0], ChainID: approval.ChainID, Provider: p}, nil
}

func (a *Adapter) sessionUpdate(session Session, u walletconnect.SessionUpdate) {
	a.mu.Lock()
	current := a.session == session
	a.mu.Unlock()
	if !current {
		return
	}
	if !u.Approved {
		a.logger.Infof("wallet ended the session")
		a.drop(session)
		a.Emit(connector.Event{Kind: connector.EventDisconnect})
		return
	}
	if len(u.Accounts) == 0 {
		return
	}
	a.Emit(connector.Event{Kind: connector.EventUpdate, Account: u.Accounts[0], ChainID: u.ChainID})
}

// drop forgets session if it is still the adapter's.
func (a *Adapter) drop(session Session) {
	a.mu.Lock()
	if a.session != session {
		a.mu.Unlock()
		return
	}
	p := a.provider
	a.session = nil
	a.provider = nil
	a.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

func (a *Adapter) Deactivate(ctx context.Context) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return
	}
	a.drop(session)
	if err := session.Kill(ctx); err != nil {
		a.logger.Warnf("kill session: %v", err)
	}
}

// ConnectEagerly reuses a session that is still paired.
func (a *Adapter) ConnectEagerly(context.Context) *connector.Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || a.provider == nil || !a.session.Connected() {
		return nil
	}
	st := a.session.State()
	if len(st.Accounts) == 0 {
		return nil
	}
	return &connector.Connection{Account: st.Accounts[0], ChainID: st.ChainID, Provider: a.provider}
}

func (a *Adapter) Provider() connector.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider == nil {
		return nil
	}
	return a.provider
}

// PairingURI returns the uri of the session being paired or in use.
func (a *Adapter) PairingURI() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return "", false
	}
	return a.session.URI(), true
}

// PairingQRCode renders PairingURI as a png.
func (a *Adapter) PairingQRCode(size int) ([]byte, error) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return nil, connector.ErrNotActive
	}
	return session.QRCode(size)
}

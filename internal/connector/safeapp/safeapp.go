// Package safeapp connects a multisig Safe when the page runs embedded in the Safe
// application. Messages are signed by the embedding application, not the provider.
package safeapp

import (
	"context"
	"sync"
	"time"

	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/host"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

// DefaultProbeTimeout bounds how long the embedding application may take to answer
// getSafeInfo before the page is treated as not embedded in a Safe.
const DefaultProbeTimeout = 300 * time.Millisecond

type Adapter struct {
	connector.Emitter

	sdk          SDK
	env          host.Environment
	hostAppURL   string
	probeTimeout time.Duration
	logger       log.Entry

	mu       sync.Mutex
	safe     *SafeInfo
	provider *Provider
}

func New(sdk SDK, env host.Environment, hostAppURL string, probeTimeout time.Duration) *Adapter {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Adapter{
		sdk:          sdk,
		env:          env,
		hostAppURL:   hostAppURL,
		probeTimeout: probeTimeout,
		logger:       log.WithField("connector", connector.SafeApp),
	}
}

func (a *Adapter) ID() connector.ID { return connector.SafeApp }

type probeResult struct {
	info *SafeInfo
	err  error
}

// probe returns the Safe info when the page is framed and the embedding application
// answers within the probe timeout. A nil info with nil error means not a Safe context.
func (a *Adapter) probe(ctx context.Context) (*SafeInfo, error) {
	if !host.FromContext(ctx, a.env).Embedded() {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan probeResult, 1)
	go func() {
		info, err := a.sdk.SafeInfo(ctx)
		done <- probeResult{info: info, err: err}
	}()
	timer := time.NewTimer(a.probeTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.info, r.err
	case <-timer.C:
		a.logger.Debugf("no safe info within %s", a.probeTimeout)
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) Activate(ctx context.Context, _ uint64) (*connector.Connection, error) {
	info, err := a.probe(ctx)
	if err != nil {
		return nil, connector.NewActivationError(connector.SafeApp, err)
	}
	if info == nil {
		if a.hostAppURL == "" {
			return nil, connector.NewActivationError(connector.SafeApp, connector.ErrNotEmbedded)
		}
		a.logger.Infof("not running inside a safe, sending the user to %s", a.hostAppURL)
		return nil, connector.NewRedirectError(connector.SafeApp, connector.ErrNotEmbedded, a.hostAppURL)
	}
	return a.connect(info), nil
}

func (a *Adapter) connect(info *SafeInfo) *connector.Connection {
	p := NewProvider(info, a.sdk)
	a.mu.Lock()
	a.safe = info
	a.provider = p
	a.mu.Unlock()
	a.logger.Debugf("safe %s on chain %d", info.SafeAddress.Hex(), info.ChainID)
	return &connector.Connection{Account: info.SafeAddress, ChainID: info.ChainID, Provider: p}
}

func (a *Adapter) Deactivate(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.safe = nil
	a.provider = nil
}

// ConnectEagerly connects silently when embedded, without sending the user anywhere.
func (a *Adapter) ConnectEagerly(ctx context.Context) *connector.Connection {
	info, err := a.probe(ctx)
	if err != nil || info == nil {
		return nil
	}
	return a.connect(info)
}

func (a *Adapter) Provider() connector.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider == nil {
		return nil
	}
	return a.provider
}

// SignMessage asks the Safe owners to sign message and returns the Safe transaction hash.
func (a *Adapter) SignMessage(ctx context.Context, message []byte) (string, error) {
	a.mu.Lock()
	active := a.safe != nil
	a.mu.Unlock()
	if !active {
		return "", connector.ErrNotActive
	}
	res, err := a.sdk.SignMessage(ctx, string(message))
	if err != nil {
		if connector.IsUserRejected(err) {
			return "", errors.Wrap(connector.ErrUserRejected, err.Error())
		}
		return "", err
	}
	return res.SafeTxHash, nil
}

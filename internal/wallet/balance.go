package wallet

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/use-wallet/internal/config"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/contracts"
	"moff.io/use-wallet/pkg/log"
)

// BalanceWatcher refreshes the native balance whenever the session changes and on
// every interval tick while connected.
type BalanceWatcher struct {
	session  *Session
	interval time.Duration
	kick     chan struct{}
}

func NewBalanceWatcher(s *Session, interval time.Duration) *BalanceWatcher {
	return &BalanceWatcher{session: s, interval: interval, kick: make(chan struct{}, 1)}
}

// Apply takes the refresh interval from conf when one is set.
func (w *BalanceWatcher) Apply(conf *config.Configuration) {
	if conf.Balance.Interval > 0 {
		w.interval = conf.Balance.Interval
	}
}

func (w *BalanceWatcher) Start(ctx context.Context) {
	unsubscribe := w.session.dispatcher.Subscribe(func(c Change) {
		if !c.Active {
			return
		}
		select {
		case w.kick <- struct{}{}:
		default:
		}
	})
	go w.run(ctx, unsubscribe)
}

func (w *BalanceWatcher) run(ctx context.Context, unsubscribe func()) {
	defer unsubscribe()
	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		case <-tick:
		}
		if err := w.Refresh(ctx); err != nil {
			log.Debugf("balance - refresh: %v", err)
		}
	}
}

// Refresh fetches the balance of the connected account. Results for an account or chain
// the session has since left are dropped.
func (w *BalanceWatcher) Refresh(ctx context.Context) error {
	s := w.session
	s.mu.Lock()
	id, provider, account, chainID, ok := s.current, s.provider, s.account, s.chainID, s.state == Connected
	s.mu.Unlock()
	if !ok || provider == nil || chainID == 0 {
		return nil
	}
	wei, err := Balance(ctx, provider, account)
	if err != nil {
		if connector.IsTransient(err) {
			s.ReportError(ctx, id, err)
		}
		return err
	}
	if s.setBalance(account, chainID, wei) {
		s.metrics.UpdateBalance(contracts.WeiToEther(wei))
	}
	return nil
}

// Balance reads the latest native balance of account.
func Balance(ctx context.Context, p connector.Provider, account common.Address) (*big.Int, error) {
	var out hexutil.Big
	if err := p.CallContext(ctx, &out, "eth_getBalance", account, "latest"); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

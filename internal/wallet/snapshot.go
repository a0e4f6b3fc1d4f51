package wallet

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/contracts"
	"moff.io/use-wallet/pkg/errors"
)

// Snapshot is the view of the session handed to the presentation layer. Account and
// chain are both set or both absent.
type Snapshot struct {
	Status    string             `json:"status"`
	Connector *connector.Info    `json:"connector,omitempty"`
	Account   string             `json:"account,omitempty"`
	ChainID   uint64             `json:"chainId,omitempty"`
	Chain     *chains.Blockchain `json:"chain,omitempty"`
	Balance   *decimal.Decimal   `json:"balance,omitempty"`
	IsActive  bool               `json:"isActive"`
	Error     string             `json:"error,omitempty"`
	// ErrorConnector is the connector the error happened with.
	ErrorConnector connector.ID `json:"errorConnector,omitempty"`
	// Redirect is where the user has to continue when the last activation handed over
	// to another app.
	Redirect string `json:"redirect,omitempty"`

	Err error `json:"-"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Status:   s.state.String(),
		IsActive: s.state == Connected,
	}
	if s.current != "" {
		if e, ok := s.registry.Get(s.current); ok {
			info := e.Info
			snap.Connector = &info
		}
	}
	if s.account != (common.Address{}) && s.chainID != 0 {
		snap.Account = strings.ToLower(s.account.Hex())
		snap.ChainID = s.chainID
		snap.Chain = s.chainView(s.chainID)
		if s.balance != nil {
			ether := contracts.WeiToEther(s.balance)
			snap.Balance = &ether
		}
	}
	if s.lastErr != nil {
		snap.Err = s.lastErr
		snap.Error = s.lastErr.Error()
		var se *SessionError
		if errors.As(s.lastErr, &se) {
			snap.ErrorConnector = se.ID
		}
		snap.Redirect, _ = connector.RedirectURL(s.lastErr)
	}
	return snap
}

func (s *Session) chainView(id uint64) *chains.Blockchain {
	if c, ok := s.table.Get(id); ok {
		view := *c
		return &view
	}
	return &chains.Blockchain{ID: id}
}

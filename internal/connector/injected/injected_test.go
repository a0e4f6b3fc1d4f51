package injected

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/connector/connectortest"
	"moff.io/use-wallet/internal/host"
	"moff.io/use-wallet/pkg/errors"
)

const desktopUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"

var account = common.HexToAddress("0x00000000000000000000000000000000000000b2")

func providerDialer(p connector.Provider) Dialer {
	return func(context.Context) (connector.Provider, error) { return p, nil }
}

func TestActivateWithoutProviderOnDesktop(t *testing.T) {
	env := &host.Static{UserAgent: desktopUA}
	a := New(RPCDialer(""), env, chains.Default(), "https://metamask.app.link/dapp/")

	conn, err := a.Activate(context.Background(), 0)
	assert.Nil(t, conn)
	var ae *connector.ActivationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, connector.Injected, ae.ID)
	assert.ErrorIs(t, err, connector.ErrProviderNotFound)
	_, redirected := connector.RedirectURL(err)
	assert.False(t, redirected)
}

func TestActivateWithoutProviderOnMobileRedirects(t *testing.T) {
	env := &host.Static{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X)", PageOrigin: "wallet.example.org"}
	a := New(RPCDialer(""), env, chains.Default(), "https://metamask.app.link/dapp/")

	_, err := a.Activate(context.Background(), 0)
	assert.ErrorIs(t, err, connector.ErrRedirected)
	url, ok := connector.RedirectURL(err)
	assert.True(t, ok)
	assert.Equal(t, "https://metamask.app.link/dapp/wallet.example.org", url)
}

func TestActivateRedirectFollowsRequestUserAgent(t *testing.T) {
	env := &host.Static{UserAgent: desktopUA, PageOrigin: "wallet.example.org"}
	a := New(RPCDialer(""), env, chains.Default(), "https://metamask.app.link/dapp/")

	ctx := host.WithUserAgent(context.Background(), "Mozilla/5.0 (Linux; Android 12; Pixel 6) Mobile")
	_, err := a.Activate(ctx, 0)
	url, ok := connector.RedirectURL(err)
	require.True(t, ok)
	assert.Equal(t, "https://metamask.app.link/dapp/wallet.example.org", url)

	_, err = a.Activate(host.WithUserAgent(context.Background(), desktopUA), 0)
	assert.ErrorIs(t, err, connector.ErrProviderNotFound)
}

func TestActivateAddsMissingChain(t *testing.T) {
	chainID := "0x1"
	switched := 0
	p := connectortest.NewProvider().
		Returns("eth_requestAccounts", []string{account.Hex()}).
		Handle("eth_chainId", func([]interface{}) (interface{}, error) { return chainID, nil }).
		Returns("wallet_addEthereumChain", nil)
	p.Handle("wallet_switchEthereumChain", func([]interface{}) (interface{}, error) {
		switched++
		if switched == 1 {
			return nil, &connector.ProviderError{Code: connector.CodeUnrecognizedChain, Message: "Unrecognized chain ID \"0x89\""}
		}
		chainID = "0x89"
		return nil, nil
	})
	a := New(providerDialer(p), &host.Static{UserAgent: desktopUA}, chains.Default(), "")

	conn, err := a.Activate(context.Background(), 137)
	require.NoError(t, err)
	assert.Equal(t, uint64(137), conn.ChainID)
	assert.Equal(t, account, conn.Account)

	adds := p.CallsTo("wallet_addEthereumChain")
	require.Len(t, adds, 1)
	params := adds[0].Args[0].(*chains.AddChainParameters)
	assert.Equal(t, "0x89", params.ChainID)
	assert.Equal(t, "Matic Mainnet", params.ChainName)
	assert.Equal(t, []string{"https://rpc-mainnet.matic.network"}, params.RPCURLs)
	assert.Equal(t, "MATIC", params.NativeCurrency.Symbol)
	assert.Equal(t, []string{"https://polygonscan.com"}, params.BlockExplorerURLs)
}

func TestActivateRejectedByUser(t *testing.T) {
	p := connectortest.NewProvider().Fails("eth_requestAccounts", connector.CodeUserRejected, "User rejected the request.")
	a := New(providerDialer(p), &host.Static{UserAgent: desktopUA}, chains.Default(), "")

	_, err := a.Activate(context.Background(), 0)
	var ae *connector.ActivationError
	require.True(t, errors.As(err, &ae))
	assert.True(t, connector.IsUserRejected(err))
}

func TestConnectEagerly(t *testing.T) {
	p := connectortest.NewProvider().
		Returns("eth_accounts", []string{}).
		Returns("eth_chainId", "0x4")
	a := New(providerDialer(p), &host.Static{UserAgent: desktopUA}, chains.Default(), "")
	assert.Nil(t, a.ConnectEagerly(context.Background()))

	p.Returns("eth_accounts", []string{account.Hex()})
	conn := a.ConnectEagerly(context.Background())
	require.NotNil(t, conn)
	assert.Equal(t, uint64(4), conn.ChainID)
	assert.Empty(t, p.CallsTo("eth_requestAccounts"))
}

func TestDeactivateClosesProvider(t *testing.T) {
	p := connectortest.NewProvider().
		Returns("eth_requestAccounts", []string{account.Hex()}).
		Returns("eth_chainId", "0x1")
	a := New(providerDialer(p), &host.Static{UserAgent: desktopUA}, chains.Default(), "")
	_, err := a.Activate(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, a.Provider())

	a.Deactivate(context.Background())
	assert.Nil(t, a.Provider())
	assert.True(t, p.Closed())
}

package smartwallet

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/connector/connectortest"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000c3")

func fixed(p connector.Provider) Factory {
	return func(context.Context, Options) (connector.Provider, error) { return p, nil }
}

func TestActivateAndDeactivate(t *testing.T) {
	p := connectortest.NewProvider().
		Returns("eth_requestAccounts", []string{account.Hex()}).
		Returns("eth_chainId", "0x1").
		Returns("wallet_disconnect", nil)
	a := New(Options{AppName: "Use Wallet"}, fixed(p), chains.Default())

	conn, err := a.Activate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, account, conn.Account)
	assert.Empty(t, p.CallsTo("wallet_switchEthereumChain"))

	a.Deactivate(context.Background())
	assert.Len(t, p.CallsTo("wallet_disconnect"), 1)
	assert.True(t, p.Closed())
	assert.Nil(t, a.Provider())
}

func TestActivateWithoutEndpoint(t *testing.T) {
	a := New(Options{}, RPCFactory, chains.Default())
	_, err := a.Activate(context.Background(), 0)
	assert.ErrorIs(t, err, connector.ErrProviderNotFound)
}

func TestActivateChainSwitchRefused(t *testing.T) {
	p := connectortest.NewProvider().
		Returns("eth_requestAccounts", []string{account.Hex()}).
		Returns("eth_chainId", "0x1").
		Fails("wallet_switchEthereumChain", connector.CodeUserRejected, "rejected")
	a := New(Options{}, fixed(p), chains.Default())

	_, err := a.Activate(context.Background(), 137)
	var ae *connector.ActivationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, connector.SmartWallet, ae.ID)
	assert.True(t, connector.IsUserRejected(err))
}

func TestReadsUseFallbackURLOnItsChain(t *testing.T) {
	sdk := connectortest.NewProvider().
		Returns("eth_requestAccounts", []string{account.Hex()}).
		Returns("eth_chainId", "0x1").
		Returns("eth_getBalance", "0x1").
		Returns("personal_sign", "0xsig")
	node := connectortest.NewProvider().Returns("eth_getBalance", "0x2")
	var dialed []string
	a := New(Options{URL: "https://mainnet.example"}, fixed(sdk), chains.Default()).
		WithReadDialer(func(_ context.Context, url string) (connector.Provider, error) {
			dialed = append(dialed, url)
			return node, nil
		})

	conn, err := a.Activate(context.Background(), 1)
	require.NoError(t, err)

	var balance string
	require.NoError(t, conn.Provider.CallContext(context.Background(), &balance, "eth_getBalance", account, "latest"))
	assert.Equal(t, "0x2", balance)
	var sig string
	require.NoError(t, conn.Provider.CallContext(context.Background(), &sig, "personal_sign", "0x00", account))
	assert.Equal(t, "0xsig", sig)
	assert.Equal(t, []string{"https://mainnet.example"}, dialed)
	assert.Empty(t, sdk.CallsTo("eth_getBalance"))

	a.Deactivate(context.Background())
	assert.True(t, node.Closed())
	assert.True(t, sdk.Closed())
}

func TestReadsStayOnSDKOffTheURLChain(t *testing.T) {
	sdk := connectortest.NewProvider().
		Returns("eth_requestAccounts", []string{account.Hex()}).
		Returns("eth_chainId", "0x4").
		Returns("eth_getBalance", "0x1")
	a := New(Options{URL: "https://mainnet.example"}, fixed(sdk), chains.Default()).
		WithReadDialer(func(context.Context, string) (connector.Provider, error) {
			t.Fatal("read url dialed for another chain")
			return nil, nil
		})

	conn, err := a.Activate(context.Background(), 4)
	require.NoError(t, err)
	var balance string
	require.NoError(t, conn.Provider.CallContext(context.Background(), &balance, "eth_getBalance", account, "latest"))
	assert.Equal(t, "0x1", balance)
	assert.Len(t, sdk.CallsTo("eth_getBalance"), 1)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/use-wallet/internal/cache"
	"moff.io/use-wallet/internal/chains"
	"moff.io/use-wallet/internal/config"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/connector/hosted"
	"moff.io/use-wallet/internal/connector/injected"
	"moff.io/use-wallet/internal/connector/relay"
	"moff.io/use-wallet/internal/connector/safeapp"
	"moff.io/use-wallet/internal/connector/smartwallet"
	"moff.io/use-wallet/internal/contracts"
	"moff.io/use-wallet/internal/host"
	"moff.io/use-wallet/internal/http"
	"moff.io/use-wallet/internal/metrics"
	"moff.io/use-wallet/internal/starter"
	"moff.io/use-wallet/internal/wallet"
	"moff.io/use-wallet/internal/walletconnect"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	conf := config.Global
	log.SetLevel(conf.LogLevel)
	if err := errors.NewSentryReporter(conf.SentryDSN, conf.App.Name); err != nil {
		log.Warnf("sentry reporter: %v", err)
	}
	defer errors.FlushSentry()
	errors.NewLarkReporter(conf.App.Name, conf.LarkAlarmWebhook, time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prefs, err := cache.New(ctx, conf.Preference)
	if err != nil {
		log.Fatal(errors.WrapAndReport(err, "init preference store"))
	}
	table := chains.FromConfig(conf.Chains)
	env := &host.Static{
		IsEmbedded: conf.Host.Embedded,
		UserAgent:  conf.Host.UserAgent,
		PageOrigin: conf.Host.Origin,
	}

	registry, pairing, err := newRegistry(conf, table, env)
	if err != nil {
		log.Fatal(errors.WrapAndReport(err, "init connectors"))
	}

	m := metrics.NewWalletMetrics()
	dispatcher := wallet.NewDispatcher(0)
	session := wallet.NewSession(wallet.Options{
		Registry:    registry,
		Preferences: prefs,
		Chains:      table,
		Dispatcher:  dispatcher,
		Metrics:     m,
	})
	facades := wallet.NewFacades(session, contracts.Addresses{
		WETH:    common.HexToAddress(conf.Contracts.WETH),
		Greeter: common.HexToAddress(conf.Contracts.Greeter),
	}, contracts.DefaultPollInterval)
	server := http.NewServer(conf.HTTPAddress, session, facades, m, pairing)

	starter.Start(ctx,
		dispatcher,
		wallet.NewBalanceWatcher(session, conf.Balance.Interval),
		server,
	)
	session.ConnectEagerly(ctx)

	<-ctx.Done()
	log.Info("Shutting down")
	starter.Stop(server)
	session.Deactivate(context.Background())
}

// newRegistry builds every connector in presentation order.
func newRegistry(conf *config.Configuration, table chains.Table, env host.Environment) (*connector.Registry, http.Pairing, error) {
	connectors := conf.Connectors
	icon := func(id connector.ID) string { return conf.Icons[id.String()] }
	info := func(id connector.ID, name string) connector.Info {
		return connector.Info{ID: id, Name: name, Icon: icon(id)}
	}

	relayChains := connectors.WalletConnect.Chains
	if len(relayChains) == 0 {
		relayChains = table.IDs()
	}
	relayAdapter, err := relay.New(relay.BridgeSessions(walletconnect.Options{
		BridgeURL: connectors.WalletConnect.BridgeURL,
		Meta: walletconnect.PeerMeta{
			Name:        conf.App.Name,
			Description: conf.App.Description,
			URL:         conf.App.URL,
			Icons:       conf.App.Icons,
		},
		ReadTimeout: connectors.WalletConnect.ReadTimeout,
	}), relay.RPCDialer, relayChains, relay.ReadURLs(table.URLs(), connectors.WalletConnect.RPC))
	if err != nil {
		return nil, nil, err
	}

	safeAdapter := safeapp.New(
		safeapp.NewClient(safeapp.NewWSMessenger(connectors.Safe.BridgeURL)),
		env, connectors.Safe.HostAppURL, connectors.Safe.ProbeTimeout,
	)

	registry, err := connector.NewRegistry(
		connector.Entry{
			Info:    info(connector.Injected, "MetaMask"),
			Adapter: injected.New(injected.RPCDialer(connectors.Injected.Endpoint), env, table, connectors.Injected.DeepLink),
		},
		connector.Entry{Info: info(connector.RelaySession, "WalletConnect"), Adapter: relayAdapter},
		connector.Entry{
			Info: info(connector.SmartWallet, "Coinbase Wallet"),
			Adapter: smartwallet.New(smartwallet.Options{
				Endpoint: connectors.SmartWallet.Endpoint,
				URL:      connectors.SmartWallet.URL,
				ChainID:  connectors.SmartWallet.ChainID,
				AppName:  connectors.SmartWallet.AppName,
			}, smartwallet.RPCFactory, table),
		},
		connector.Entry{
			Info:    info(connector.HostedWallet, "Sequence"),
			Adapter: hosted.New(hosted.RPCWalletFactory(connectors.Hosted.Endpoint, connectors.Hosted.DefaultChainID)),
		},
		connector.Entry{Info: info(connector.SafeApp, "Gnosis Safe"), Adapter: safeAdapter, Signer: safeAdapter},
	)
	return registry, relayAdapter, err
}

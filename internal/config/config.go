package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// GetRedisAddress returns host:port of the redis credential.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Configuration struct
type Configuration struct {
	LogLevel         int               `yaml:"log_level"`
	HTTPAddress      string            `yaml:"http_address"`
	SentryDSN        string            `yaml:"sentry_dsn"`
	LarkAlarmWebhook string            `yaml:"lark_alarm_webhook"`
	App              AppMeta           `yaml:"app"`
	Preference       Preference        `yaml:"preference"`
	Host             Host              `yaml:"host"`
	Chains           map[uint64]Chain  `yaml:"chains"`
	Connectors       Connectors        `yaml:"connectors"`
	Contracts        Contracts         `yaml:"contracts"`
	Balance          BalanceRefresh    `yaml:"balance"`
	Icons            map[string]string `yaml:"icons"`
}

// AppMeta describes this frontend to wallets during pairing.
type AppMeta struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	URL         string   `yaml:"url"`
	Icons       []string `yaml:"icons"`
}

// Preference selects where the last used connector is remembered.
// Redis wins when its address is set.
type Preference struct {
	FilePath string       `yaml:"file_path"`
	Key      string       `yaml:"key"`
	Redis    DBCredential `yaml:"redis"`
}

// Host describes the runtime the frontend is served in.
type Host struct {
	Embedded bool `yaml:"embedded"`
	// UserAgent decides Mobile when no request carries one, as in eager connect.
	UserAgent string `yaml:"user_agent"`
	Origin    string `yaml:"origin"`
}

type Chain struct {
	URLs              []string        `yaml:"urls"`
	Name              string          `yaml:"name"`
	NativeCurrency    *NativeCurrency `yaml:"native_currency"`
	BlockExplorerURLs []string        `yaml:"block_explorer_urls"`
}

type NativeCurrency struct {
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

type Connectors struct {
	Injected      Injected      `yaml:"injected"`
	WalletConnect WalletConnect `yaml:"wallet_connect"`
	Hosted        Hosted        `yaml:"hosted"`
	SmartWallet   SmartWallet   `yaml:"smart_wallet"`
	Safe          Safe          `yaml:"safe"`
}

type Injected struct {
	// Endpoint of the extension wallet's JSON-RPC bridge, empty means not installed.
	Endpoint string `yaml:"endpoint"`
	DeepLink string `yaml:"deep_link"`
}

type WalletConnect struct {
	BridgeURL   string            `yaml:"bridge_url"`
	Chains      []uint64          `yaml:"chains"`
	RPC         map[uint64]string `yaml:"rpc"`
	ReadTimeout time.Duration     `yaml:"read_timeout"`
}

type Hosted struct {
	Endpoint       string `yaml:"endpoint"`
	DefaultChainID uint64 `yaml:"default_chain_id"`
}

type SmartWallet struct {
	Endpoint string `yaml:"endpoint"`
	URL      string `yaml:"url"`
	// ChainID is the chain URL serves.
	ChainID uint64 `yaml:"chain_id"`
	AppName string `yaml:"app_name"`
}

type Safe struct {
	HostAppURL   string        `yaml:"host_app_url"`
	BridgeURL    string        `yaml:"bridge_url"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type Contracts struct {
	WETH    string `yaml:"weth"`
	Greeter string `yaml:"greeter"`
}

type BalanceRefresh struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration the demo runs with when no file overrides it.
func Default() Configuration {
	return Configuration{
		LogLevel:    1,
		HTTPAddress: ":8080",
		App: AppMeta{
			Name:        "Use Wallet",
			Description: "Connect a wallet, switch chains, sign messages and call demo contracts",
		},
		Preference: Preference{
			FilePath: ".use-wallet/preference.yml",
			Key:      "use-wallet:last-connector",
		},
		Connectors: Connectors{
			Injected: Injected{DeepLink: "https://metamask.app.link/dapp/"},
			WalletConnect: WalletConnect{
				Chains:      []uint64{1, 4},
				ReadTimeout: 5 * time.Minute,
				RPC: map[uint64]string{
					1:   "https://mainnet.infura.io/v3/47a3dff66e3e49c2b8fff75f0eb95c90",
					4:   "https://rinkeby.infura.io/v3/47a3dff66e3e49c2b8fff75f0eb95c90",
					137: "https://polygon-mainnet.infura.io/v3/8e3937db21b341ceac1607d35ae551dd",
				},
			},
			SmartWallet: SmartWallet{
				URL:     "https://mainnet.infura.io/v3/47a3dff66e3e49c2b8fff75f0eb95c90",
				ChainID: 1,
				AppName: "Use Wallet",
			},
			Safe: Safe{
				HostAppURL:   "https://gnosis-safe.io/app",
				ProbeTimeout: 300 * time.Millisecond,
			},
		},
		Contracts: Contracts{
			WETH:    "0xc778417E063141139Fce010982780140Aa0cD5Ab",
			Greeter: "0x0087EB397af9E04Ff9872199d63F841474bf2A27",
		},
		Balance: BalanceRefresh{Interval: 15 * time.Second},
	}
}

// Load reads a yaml file over the defaults.
func Load(path string) (Configuration, error) {
	conf := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return conf, errors.Errorf("file %s does not exist", path)
		}
		return conf, errors.Wrap(err, "read configuration file")
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, errors.Wrap(err, "decode configuration")
	}
	return conf, nil
}

var Global *Configuration

// Read reads configuration information from yml. A missing file falls back to Default.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	log.Infof("Loading configuration file from %s", *configFilePath)
	conf, err := Load(*configFilePath)
	if err != nil {
		log.Warnf("load configuration: %v, using defaults", err)
		conf = Default()
	}
	Global = &conf
}

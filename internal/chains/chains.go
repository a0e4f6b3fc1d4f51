package chains

import (
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/use-wallet/internal/config"
)

// NativeCurrency is the gas token metadata a wallet needs to add a chain.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Blockchain is one entry of the static chain table. NativeCurrency and
// BlockExplorerURLs are only set for chains wallets may not know about.
type Blockchain struct {
	ID                uint64          `json:"chainId"`
	Name              string          `json:"name"`
	URLs              []string        `json:"urls"`
	NativeCurrency    *NativeCurrency `json:"nativeCurrency,omitempty"`
	BlockExplorerURLs []string        `json:"blockExplorerUrls,omitempty"`
}

// Extended reports whether the entry carries enough data for wallet_addEthereumChain.
func (in *Blockchain) Extended() bool {
	return in.NativeCurrency != nil
}

func (in *Blockchain) IDHex() string {
	return hexutil.EncodeUint64(in.ID)
}

// AddChainParameters is the EIP-3085 wallet_addEthereumChain argument.
type AddChainParameters struct {
	ChainID           string          `json:"chainId"`
	ChainName         string          `json:"chainName"`
	NativeCurrency    *NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string        `json:"rpcUrls"`
	BlockExplorerURLs []string        `json:"blockExplorerUrls,omitempty"`
}

// Table maps chain ids to their static information.
type Table map[uint64]*Blockchain

// Default is the chain table the frontend ships with.
func Default() Table {
	return Table{
		1: {
			ID:   1,
			Name: "Mainnet",
			URLs: []string{"https://mainnet.infura.io/v3/47a3dff66e3e49c2b8fff75f0eb95c90"},
		},
		4: {
			ID:   4,
			Name: "Rinkeby",
			URLs: []string{"https://rinkeby.infura.io/v3/47a3dff66e3e49c2b8fff75f0eb95c90"},
		},
		137: {
			ID:                137,
			Name:              "Matic Mainnet",
			URLs:              []string{"https://rpc-mainnet.matic.network"},
			NativeCurrency:    &NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
			BlockExplorerURLs: []string{"https://polygonscan.com"},
		},
		80001: {
			ID:                80001,
			Name:              "Mumbai Testnet",
			URLs:              []string{"https://rpc-mumbai.matic.today"},
			NativeCurrency:    &NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
			BlockExplorerURLs: []string{"https://mumbai.polygonscan.com"},
		},
	}
}

// FromConfig overlays configured chains on top of the default table.
func FromConfig(overrides map[uint64]config.Chain) Table {
	table := Default()
	for id, c := range overrides {
		chain := &Blockchain{
			ID:                id,
			Name:              c.Name,
			URLs:              c.URLs,
			BlockExplorerURLs: c.BlockExplorerURLs,
		}
		if c.NativeCurrency != nil {
			chain.NativeCurrency = &NativeCurrency{
				Name:     c.NativeCurrency.Name,
				Symbol:   c.NativeCurrency.Symbol,
				Decimals: c.NativeCurrency.Decimals,
			}
		}
		table[id] = chain
	}
	return table
}

func (t Table) Get(id uint64) (*Blockchain, bool) {
	c, ok := t[id]
	return c, ok
}

// AddChainParameters returns the wallet_addEthereumChain argument for id. The second
// result is false when the chain is unknown or only carries basic information, in which
// case wallets are asked to switch by id only.
func (t Table) AddChainParameters(id uint64) (*AddChainParameters, bool) {
	c, ok := t[id]
	if !ok || !c.Extended() {
		return nil, false
	}
	return &AddChainParameters{
		ChainID:           c.IDHex(),
		ChainName:         c.Name,
		NativeCurrency:    c.NativeCurrency,
		RPCURLs:           c.URLs,
		BlockExplorerURLs: c.BlockExplorerURLs,
	}, true
}

// URLs returns the rpc urls of every chain that has at least one.
func (t Table) URLs() map[uint64][]string {
	out := make(map[uint64][]string, len(t))
	for id, c := range t {
		if len(c.URLs) > 0 {
			out[id] = c.URLs
		}
	}
	return out
}

// IDs returns the chain ids in ascending order.
func (t Table) IDs() []uint64 {
	ids := make([]uint64, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

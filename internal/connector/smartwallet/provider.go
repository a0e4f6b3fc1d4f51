package smartwallet

import (
	"context"
	"sync"

	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/pkg/log"
)

// Provider sends chain reads to the fallback url while the wallet is on the chain that
// url serves. Everything else, and reads the url cannot take, go to the SDK.
type Provider struct {
	sdk      connector.Provider
	url      string
	urlChain uint64
	dial     ReadDialer

	mu      sync.Mutex
	chainID uint64
	reads   connector.Provider
}

func readMethod(method string) bool {
	switch method {
	case "eth_call", "eth_getBalance", "eth_getCode", "eth_getStorageAt", "eth_blockNumber",
		"eth_getTransactionReceipt", "eth_getTransactionByHash", "eth_getTransactionCount",
		"eth_estimateGas", "eth_gasPrice", "eth_feeHistory", "eth_getLogs",
		"eth_getBlockByNumber", "eth_getBlockByHash":
		return true
	}
	return false
}

func (p *Provider) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if readMethod(method) {
		if r := p.reader(ctx); r != nil {
			return r.CallContext(ctx, result, method, args...)
		}
	}
	return p.sdk.CallContext(ctx, result, method, args...)
}

func (p *Provider) setChain(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chainID = id
}

func (p *Provider) reader(ctx context.Context) connector.Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == "" || p.chainID != p.urlChain {
		return nil
	}
	if p.reads == nil {
		r, err := p.dial(ctx, p.url)
		if err != nil {
			log.Debugf("smart wallet - read url unavailable: %v", err)
			return nil
		}
		p.reads = r
	}
	return p.reads
}

// Close releases the read connection and the SDK provider.
func (p *Provider) Close() {
	p.mu.Lock()
	reads := p.reads
	p.reads = nil
	p.mu.Unlock()
	if reads != nil {
		connector.CloseProvider(reads)
	}
	connector.CloseProvider(p.sdk)
}

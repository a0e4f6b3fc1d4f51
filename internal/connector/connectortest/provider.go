// Package connectortest provides an in-memory wallet provider for adapter and session tests.
package connectortest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"moff.io/use-wallet/internal/connector"
)

// Handler answers one JSON-RPC method. The returned value is JSON encoded into the
// caller's result.
type Handler func(args []interface{}) (interface{}, error)

// Call is one recorded request.
type Call struct {
	Method string
	Args   []interface{}
}

// Provider is a scripted connector.Provider.
type Provider struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	closed   bool
}

func NewProvider() *Provider {
	return &Provider{handlers: map[string]Handler{}}
}

// Handle sets the handler of method.
func (p *Provider) Handle(method string, h Handler) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = h
	return p
}

// Returns makes method answer v.
func (p *Provider) Returns(method string, v interface{}) *Provider {
	return p.Handle(method, func([]interface{}) (interface{}, error) { return v, nil })
}

// Fails makes method answer a provider error.
func (p *Provider) Fails(method string, code int, message string) *Provider {
	return p.Handle(method, func([]interface{}) (interface{}, error) {
		return nil, &connector.ProviderError{Code: code, Message: message}
	})
}

func (p *Provider) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Method: method, Args: args})
	h, ok := p.handlers[method]
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ok {
		return &connector.ProviderError{Code: connector.CodeUnsupportedMethod, Message: fmt.Sprintf("method %s not scripted", method)}
	}
	v, err := h(args)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Calls returns every recorded request.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsTo returns the recorded requests of method.
func (p *Provider) CallsTo(method string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

package connector

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"moff.io/use-wallet/pkg/errors"
)

// Info is the static presentation metadata of a connector.
type Info struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Entry binds an adapter to its metadata. Signer is set for adapters that sign messages
// through their own SDK; the others sign through their provider.
type Entry struct {
	Info
	Adapter Adapter
	Signer  MessageSigner
}

// Registry owns one adapter per connector id for the lifetime of the process. It is
// immutable after construction and keeps registration order.
type Registry struct {
	entries *linkedhashmap.Map
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	m := linkedhashmap.New()
	for _, e := range entries {
		if e.Adapter == nil {
			return nil, errors.Errorf("connector %s has no adapter", e.ID)
		}
		if e.Adapter.ID() != e.ID {
			return nil, errors.Errorf("connector %s registered with adapter %s", e.ID, e.Adapter.ID())
		}
		if _, found := m.Get(e.ID); found {
			return nil, errors.Errorf("duplicate connector %s", e.ID)
		}
		m.Put(e.ID, e)
	}
	return &Registry{entries: m}, nil
}

func (r *Registry) Get(id ID) (Entry, bool) {
	v, found := r.entries.Get(id)
	if !found {
		return Entry{}, false
	}
	return v.(Entry), true
}

// List returns the presentation metadata in registration order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, r.entries.Size())
	r.entries.Each(func(_ interface{}, v interface{}) {
		out = append(out, v.(Entry).Info)
	})
	return out
}

// Entries returns every entry in registration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, r.entries.Size())
	r.entries.Each(func(_ interface{}, v interface{}) {
		out = append(out, v.(Entry))
	})
	return out
}

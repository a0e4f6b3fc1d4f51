package walletconnect

import (
	"encoding/hex"
	"net/url"
	"strings"

	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/wccrypto"
)

// Pairing is the content of a `wc:` uri.
type Pairing struct {
	Topic   string
	Version string
	Bridge  string
	Key     []byte
}

// ParseURI reads a pairing uri as produced by Session.URI.
func ParseURI(uri string) (*Pairing, error) {
	rest := strings.TrimPrefix(uri, "wc:")
	if rest == uri {
		return nil, errors.Errorf("not a wallet connect uri: %s", uri)
	}
	path, query, found := strings.Cut(rest, "?")
	if !found {
		return nil, errors.New("wallet connect uri without parameters")
	}
	topic, version, found := strings.Cut(path, "@")
	if !found || topic == "" {
		return nil, errors.New("wallet connect uri without topic")
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, errors.Wrap(err, "parse wallet connect uri parameters")
	}
	key, err := hex.DecodeString(values.Get("key"))
	if err != nil {
		return nil, errors.Wrap(err, "decode key")
	}
	if len(key) != wccrypto.KeySize {
		return nil, errors.Errorf("key must be %d bytes, got %d", wccrypto.KeySize, len(key))
	}
	if values.Get("bridge") == "" {
		return nil, errors.New("wallet connect uri without bridge")
	}
	return &Pairing{Topic: topic, Version: version, Bridge: values.Get("bridge"), Key: key}, nil
}

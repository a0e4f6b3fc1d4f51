package wccrypto

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
)

const (
	alphanumerical  = "abcdefghijklmnopqrstuvwxyz0123456789"
	bridgeURLFormat = "https://%v.bridge.walletconnect.org"
)

// RandomBridgeURL picks one of the public v1 bridge shards.
func RandomBridgeURL() string {
	return fmt.Sprintf(bridgeURLFormat, string(alphanumerical[rand.Intn(len(alphanumerical))]))
}

// WebSocketURL converts a bridge http(s) url to its websocket endpoint.
func WebSocketURL(bridge, protocol, version string) string {
	switch {
	case strings.HasPrefix(bridge, "https://"):
		bridge = "wss://" + strings.TrimPrefix(bridge, "https://")
	case strings.HasPrefix(bridge, "http://"):
		bridge = "ws://" + strings.TrimPrefix(bridge, "http://")
	}
	sep := "?"
	if strings.Contains(bridge, "?") {
		sep = "&"
	}
	q := url.Values{}
	q.Set("protocol", protocol)
	q.Set("version", version)
	q.Set("env", "go")
	return bridge + sep + q.Encode()
}

// PairingURI is the `wc:` uri rendered in the pairing QR code.
func PairingURI(topic, bridge string, key []byte) string {
	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%x", topic, url.QueryEscape(bridge), key)
}

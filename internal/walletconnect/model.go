package walletconnect

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/wccrypto"
)

// PeerMeta describes one side of the session to the other.
type PeerMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

type peer struct {
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
	ChainID  *uint64  `json:"chainId,omitempty"`
}

// Approval is the wallet's answer to the session request.
type Approval struct {
	Approved bool             `json:"approved"`
	ChainID  uint64           `json:"chainId"`
	Accounts []common.Address `json:"accounts"`
	PeerID   string           `json:"peerId"`
	PeerMeta PeerMeta         `json:"peerMeta"`
}

// SessionUpdate is pushed by the wallet when it switches account or chain, or when it
// ends the session (Approved false).
type SessionUpdate struct {
	Approved bool             `json:"approved"`
	ChainID  uint64           `json:"chainId"`
	Accounts []common.Address `json:"accounts"`
}

// wcMessage is the bridge envelope.
type wcMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newWCMessageFromBytes(data []byte) (*wcMessage, error) {
	var msg wcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message")
	}
	return &msg, nil
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

func decodePayload(raw string) (*wccrypto.Payload, error) {
	var p wccrypto.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message payload")
	}
	return &p, nil
}

type jsonRpcRequest struct {
	ID      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

var lastPayloadID atomic.Int64

// payloadID returns a unique request id derived from the clock.
func payloadID() int64 {
	for {
		last := lastPayloadID.Load()
		id := time.Now().UnixNano() / 1000
		if id <= last {
			id = last + 1
		}
		if lastPayloadID.CAS(last, id) {
			return id
		}
	}
}

func newJSONRpcRequest(method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		ID:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

// IsSilentPayload reports whether the wallet handles the request without prompting.
func (e *jsonRpcRequest) IsSilentPayload() bool {
	return strings.HasPrefix(e.Method, "wc_")
}

// RPCError is an error answer of the wallet.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

func (e *RPCError) ErrorCode() int { return e.Code }

// Rejected reports whether the user declined the request in the wallet.
func (e *RPCError) Rejected() bool {
	msg := strings.ToLower(e.Message)
	return e.Code == 4001 || strings.Contains(msg, "rejected") || strings.Contains(msg, "denied")
}

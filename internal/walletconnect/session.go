// Package walletconnect implements the dapp side of a WalletConnect v1 session: pairing
// through a bridge, the session handshake, relayed JSON-RPC requests and session updates.
// Protocol: https://docs.walletconnect.com/tech-spec#establishing-connection
package walletconnect

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
	"moff.io/use-wallet/pkg/wccrypto"
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrSessionRejected = errors.New("session rejected")
	ErrNotConnected    = errors.New("session not connected")
)

// DefaultQRCodeSize is the edge length in pixels of QRCode images.
const DefaultQRCodeSize = 256

type Options struct {
	// BridgeURL defaults to a random public bridge.
	BridgeURL string
	Meta      PeerMeta
	// ReadTimeout bounds how long a request waits for the wallet. Zero means five minutes.
	ReadTimeout time.Duration
}

type rpcResponse struct {
	result json.RawMessage
	err    error
}

// Session is one pairing with a wallet. A session that was killed or rejected cannot be
// reused; create a new one instead.
type Session struct {
	bridgeURL   string
	meta        PeerMeta
	readTimeout time.Duration

	handshakeTopic string
	clientID       string
	encryptionKey  []byte

	// None zero value means Connect was called.
	connectCount atomic.Int64
	connected    atomic.Bool

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	peerID   string
	state    SessionUpdate
	pending  map[int64]chan rpcResponse
	onUpdate []func(SessionUpdate)
	done     chan struct{}
}

func NewSession(opts Options) (*Session, error) {
	key, err := wccrypto.GenerateRandomBytes(wccrypto.KeySize)
	if err != nil {
		return nil, errors.WrapAndReport(err, "generate session key")
	}
	bridge := opts.BridgeURL
	if bridge == "" {
		bridge = wccrypto.RandomBridgeURL()
	}
	timeout := opts.ReadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Session{
		bridgeURL:      bridge,
		meta:           opts.Meta,
		readTimeout:    timeout,
		handshakeTopic: uuid.NewString(),
		clientID:       uuid.NewString(),
		encryptionKey:  key,
		pending:        map[int64]chan rpcResponse{},
		done:           make(chan struct{}),
	}, nil
}

// URI is the pairing uri the wallet scans.
func (s *Session) URI() string {
	return wccrypto.PairingURI(s.handshakeTopic, s.bridgeURL, s.encryptionKey)
}

// QRCode renders URI as a png.
func (s *Session) QRCode(size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRCodeSize
	}
	png, err := qrcode.Encode(s.URI(), qrcode.Medium, size)
	if err != nil {
		return nil, errors.WrapAndReport(err, "encode wallet connect qr code")
	}
	return png, nil
}

// OnUpdate registers fn for wallet-initiated session updates.
func (s *Session) OnUpdate(fn func(SessionUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = append(s.onUpdate, fn)
}

func (s *Session) Connected() bool { return s.connected.Load() }

// State returns the accounts and chain of the wallet as last reported.
func (s *Session) State() SessionUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Accounts = append(st.Accounts[:0:0], st.Accounts...)
	return st
}

// Connect dials the bridge, publishes the session request and suspends until the wallet
// answers it. chainID 0 lets the wallet choose.
func (s *Session) Connect(ctx context.Context, chainID uint64) (*Approval, error) {
	if !s.connectCount.CAS(0, 1) {
		return nil, errors.New("duplicate connect on wallet connect session")
	}
	if err := s.dialWS(ctx); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.close()
		return nil, err
	}
	p := peer{PeerID: s.clientID, PeerMeta: s.meta}
	if chainID != 0 {
		p.ChainID = &chainID
	}
	raw, err := s.call(ctx, s.handshakeTopic, newJSONRpcRequest("wc_sessionRequest", p))
	if err != nil {
		s.close()
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Rejected() {
			return nil, errors.Wrap(ErrSessionRejected, rpcErr.Message)
		}
		return nil, err
	}
	var approval Approval
	if err := json.Unmarshal(raw, &approval); err != nil {
		s.close()
		return nil, errors.WrapAndReport(err, "unmarshal wallet info")
	}
	if !approval.Approved {
		s.close()
		return nil, ErrSessionRejected
	}
	if len(approval.Accounts) == 0 {
		s.close()
		return nil, errors.New("no wallet accounts acquired")
	}
	s.mu.Lock()
	s.peerID = approval.PeerID
	s.state = SessionUpdate{Approved: true, ChainID: approval.ChainID, Accounts: approval.Accounts}
	s.mu.Unlock()
	s.connected.Store(true)
	log.Debugf("wallet connect - session approved by %s on chain %d", approval.PeerMeta.Name, approval.ChainID)
	return &approval, nil
}

// Request relays a JSON-RPC call to the wallet and decodes its result into result.
func (s *Session) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	s.mu.Lock()
	topic := s.peerID
	s.mu.Unlock()
	raw, err := s.call(ctx, topic, newJSONRpcRequest(method, params...))
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return errors.Wrapf(err, "decode %s result", method)
	}
	return nil
}

// Kill tells the wallet the session is over and closes the bridge connection.
func (s *Session) Kill(ctx context.Context) error {
	if !s.connected.CAS(true, false) {
		s.close()
		return nil
	}
	s.mu.Lock()
	topic := s.peerID
	s.mu.Unlock()
	req := newJSONRpcRequest("wc_sessionUpdate", SessionUpdate{Approved: false})
	err := s.publish(topic, req)
	s.close()
	return err
}

func (s *Session) dialWS(ctx context.Context) error {
	wsURL := wccrypto.WebSocketURL(s.bridgeURL, "wc", "1")
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "dial to wallet connect bridge url")
	}
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	go s.readLoop(conn)
	return nil
}

func (s *Session) close() {
	s.writeMu.Lock()
	conn := s.conn
	s.conn = nil
	s.writeMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Session) sendRequest(msg wcMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrSessionClosed
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg.Marshal()); err != nil {
		return errors.Wrap(err, "write wallet connect message to server")
	}
	return nil
}

func (s *Session) subscribe() error {
	return s.sendRequest(wcMessage{Topic: s.clientID, Type: "sub", Silent: true})
}

func (s *Session) ack() error {
	return s.sendRequest(wcMessage{Topic: s.clientID, Type: "ack", Silent: true})
}

func (s *Session) publish(topic string, req *jsonRpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal json rpc request")
	}
	payload, err := wccrypto.Encrypt(data, s.encryptionKey)
	if err != nil {
		return err
	}
	raw, _ := json.Marshal(payload)
	log.Debugf("wallet connect - publish %s to %s", req.Method, topic)
	return s.sendRequest(wcMessage{Topic: topic, Type: "pub", Payload: string(raw), Silent: req.IsSilentPayload()})
}

func (s *Session) call(ctx context.Context, topic string, req *jsonRpcRequest) (json.RawMessage, error) {
	ch := make(chan rpcResponse, 1)
	s.mu.Lock()
	s.pending[req.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()
	if err := s.publish(topic, req); err != nil {
		return nil, err
	}
	timer := time.NewTimer(s.readTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-timer.C:
		return nil, errors.Errorf("wallet did not answer %s within %s", req.Method, s.readTimeout)
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.finish()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("wallet connect - read: %v", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.ack(); err != nil {
			log.Warnf("wallet connect - ack: %v", err)
		}
		msg, err := newWCMessageFromBytes(data)
		if err != nil {
			log.Warnf("wallet connect - %v", err)
			continue
		}
		if msg.Type != "pub" || msg.Payload == "" {
			continue
		}
		payload, err := decodePayload(msg.Payload)
		if err != nil {
			log.Warnf("wallet connect - %v", err)
			continue
		}
		plain, err := wccrypto.Decrypt(payload, s.encryptionKey)
		if err != nil {
			log.Warnf("wallet connect - decrypt: %v", err)
			continue
		}
		s.dispatch(gjson.ParseBytes(plain))
	}
}

func (s *Session) dispatch(rpc gjson.Result) {
	if method := rpc.Get("method"); method.Exists() {
		if method.String() == "wc_sessionUpdate" {
			s.sessionUpdate(rpc)
		} else {
			log.Debugf("wallet connect - ignored wallet request %s", method.String())
		}
		return
	}
	id := rpc.Get("id").Int()
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		log.Debugf("wallet connect - unmatched response %d", id)
		return
	}
	resp := rpcResponse{result: json.RawMessage(rpc.Get("result").Raw)}
	if e := rpc.Get("error"); e.Exists() {
		resp = rpcResponse{err: &RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}}
	}
	select {
	case ch <- resp:
	default:
		log.Debugf("wallet connect - duplicate response %d", id)
	}
}

func (s *Session) sessionUpdate(rpc gjson.Result) {
	params := rpc.Get("params").Array()
	if len(params) == 0 || !params[0].Get("approved").Exists() {
		log.Warnf("wallet connect - malformed session update %s", rpc.Raw)
		return
	}
	var update SessionUpdate
	if err := json.Unmarshal([]byte(params[0].Raw), &update); err != nil {
		log.Warnf("wallet connect - decode session update: %v", err)
		return
	}
	if !update.Approved {
		log.Warnf("wallet connect - session closed by wallet")
		s.connected.Store(false)
		s.close()
	}
	s.mu.Lock()
	s.state = update
	handlers := append([]func(SessionUpdate){}, s.onUpdate...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(update)
	}
}

// finish runs when the bridge connection ends. A live session reports the drop as
// a disconnect.
func (s *Session) finish() {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	handlers := append([]func(SessionUpdate){}, s.onUpdate...)
	s.mu.Unlock()
	if s.connected.CAS(true, false) {
		for _, fn := range handlers {
			fn(SessionUpdate{Approved: false})
		}
	}
}

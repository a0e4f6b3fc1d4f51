package safeapp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

type sdkRequest struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
	Env    sdkEnv      `json:"env"`
}

type sdkEnv struct {
	SDKVersion string `json:"sdkVersion"`
}

type pendingResponse struct {
	data json.RawMessage
	err  error
}

// WSMessenger talks to the embedding application over a websocket bridge that relays
// the frame's message channel. Responses are matched to requests by id.
type WSMessenger struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan pendingResponse
}

func NewWSMessenger(url string) *WSMessenger {
	return &WSMessenger{url: url, pending: map[string]chan pendingResponse{}}
}

func (m *WSMessenger) connect(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn, nil
	}
	if m.url == "" {
		return nil, errors.New("no embedding bridge configured")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial embedding bridge")
	}
	m.conn = conn
	go m.readLoop(conn)
	return conn, nil
}

func (m *WSMessenger) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	conn, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	req := sdkRequest{ID: uuid.NewString(), Method: method, Params: params, Env: sdkEnv{SDKVersion: sdkVersion}}
	ch := make(chan pendingResponse, 1)
	m.mu.Lock()
	m.pending[req.ID] = ch
	err = conn.WriteJSON(req)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, req.ID)
		m.mu.Unlock()
	}()
	if err != nil {
		return nil, errors.Wrapf(err, "send %s", method)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		return resp.data, resp.err
	}
}

func (m *WSMessenger) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("safe bridge - read: %v", err)
			m.failAll(conn, errors.Wrap(err, "embedding bridge closed"))
			return
		}
		res := gjson.ParseBytes(data)
		id := res.Get("id").String()
		m.mu.Lock()
		ch, ok := m.pending[id]
		m.mu.Unlock()
		if !ok {
			log.Debugf("safe bridge - unmatched message %s", string(data))
			continue
		}
		resp := pendingResponse{data: json.RawMessage("null")}
		if !res.Get("success").Bool() {
			resp = pendingResponse{err: errors.Errorf("safe sdk: %s", res.Get("error").String())}
		} else if raw := res.Get("data").Raw; raw != "" {
			resp.data = json.RawMessage(raw)
		}
		select {
		case ch <- resp:
		default:
			log.Debugf("safe bridge - duplicate response %s", id)
		}
	}
}

func (m *WSMessenger) failAll(conn *websocket.Conn, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn {
		m.conn = nil
	}
	for id, ch := range m.pending {
		select {
		case ch <- pendingResponse{err: err}:
		default:
		}
		delete(m.pending, id)
	}
}

func (m *WSMessenger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

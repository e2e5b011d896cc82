package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SignalClient is a websocket connection to the real-time server.
type SignalClient struct {
	conn   *websocket.Conn
	events chan core.Envelope

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// Dial connects to serverURL (ws:// or wss://) and authenticates with token.
func Dial(ctx context.Context, serverURL, token string) (*SignalClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	c := &SignalClient{
		conn:   conn,
		events: make(chan core.Envelope, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *SignalClient) readLoop() {
	defer close(c.events)
	for {
		var env core.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "client.signal").Msg("read")
			}
			return
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

// Events yields inbound frames until the connection closes.
func (c *SignalClient) Events() <-chan core.Envelope { return c.events }

func (c *SignalClient) Send(eventType string, payload any) error {
	f, err := core.Encode(eventType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, f)
}

func (c *SignalClient) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// decodePayload is shared by the agent's event handlers.
func decodePayload(env core.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", env.Type)
	}
	return json.Unmarshal(env.Payload, v)
}

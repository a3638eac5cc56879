package bux

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quintic/buxbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// QuoteHandler is called for every decoded message on the subscription
// stream, including non-quote kinds. Handlers run on the read-loop
// goroutine and must not block.
type QuoteHandler func(domain.QuoteEvent)

// RawFrameHandler is called with every raw text frame before decoding.
// Used by the market-data capture tap.
type RawFrameHandler func(frame []byte)

// WSClient is a client for the BUX real-time subscription WebSocket. It
// manages one connection; reconnection is the caller's concern (a fresh
// client is created per connection attempt).
type WSClient struct {
	wsURL string
	token string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	onQuote QuoteHandler
	onRaw   RawFrameHandler

	// done is closed when the read loop exits for any reason.
	done     chan struct{}
	doneOnce sync.Once
}

// NewWSClient creates a WebSocket client for the given subscription
// endpoint, e.g. "wss://rtf.getbux.com/subscriptions/me".
func NewWSClient(wsURL, token string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		token: token,
		done:  make(chan struct{}),
	}
}

// OnQuote registers the handler for decoded stream messages. Must be called
// before Connect.
func (w *WSClient) OnQuote(h QuoteHandler) { w.onQuote = h }

// OnRawFrame registers the raw-frame tap. Must be called before Connect.
func (w *WSClient) OnRawFrame(h RawFrameHandler) { w.onRaw = h }

// Connect dials the subscription endpoint with the bearer token and blocks
// until the stream acknowledges the connection with a connect.connected
// message, the server rejects it, or ctx expires. On success the read and
// ping loops are running and handlers receive messages.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("bux/ws: %w", domain.ErrWSDisconnect)
	}
	w.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+w.token)
	header.Set("Accept-Language", "nl-NL,en;q=0.8")

	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return fmt.Errorf("bux/ws: connect: %w", err)
	}

	// The stream confirms (or rejects) the session with the first message.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(time.Now().Add(pongWait)) {
		conn.SetReadDeadline(deadline)
	}
	_, first, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("bux/ws: read connect ack: %w", err)
	}
	var ack streamMessage
	if err := json.Unmarshal(first, &ack); err != nil {
		conn.Close()
		return fmt.Errorf("bux/ws: decode connect ack: %w", err)
	}
	if domain.QuoteKind(ack.Type) != domain.KindConnected {
		conn.Close()
		return fmt.Errorf("bux/ws: connect rejected: %s (%s)",
			ack.Type, ack.Body.DeveloperMessage)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Subscribe starts quote delivery for the given product IDs.
func (w *WSClient) Subscribe(productIDs []string) error {
	return w.sendCommand(subscriptionCommand{SubscribeTo: toTopics(productIDs)})
}

// Unsubscribe stops quote delivery for the given product IDs.
func (w *WSClient) Unsubscribe(productIDs []string) error {
	return w.sendCommand(subscriptionCommand{UnsubscribeFrom: toTopics(productIDs)})
}

// Done is closed once the connection is gone, whether through Close or a
// read error.
func (w *WSClient) Done() <-chan struct{} { return w.done }

// Close shuts down the connection and stops the loops. Safe to call more
// than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.doneOnce.Do(func() { close(w.done) })

	if w.conn != nil {
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return w.conn.Close()
	}
	return nil
}

// sendCommand writes a JSON subscription command as a binary frame, which
// is what the stream expects.
func (w *WSClient) sendCommand(cmd subscriptionCommand) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil || w.closed {
		return fmt.Errorf("bux/ws: %w", domain.ErrNotConnected)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("bux/ws: marshal command: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("bux/ws: send command: %w", err)
	}
	return nil
}

// readLoop reads stream messages and dispatches them until the connection
// drops or the client is closed.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer w.doneOnce.Do(func() { close(w.done) })
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if w.onRaw != nil {
			w.onRaw(message)
		}

		var msg streamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Not every frame is a stream message; skip quietly.
			continue
		}
		if msg.Type == "" {
			continue
		}
		if w.onQuote != nil {
			w.onQuote(msg.toEvent())
		}
	}
}

// pingLoop keeps the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeTimeout      = 10 * time.Second
	readTimeout       = 60 * time.Second
	heartbeatInterval = 30 * time.Second
)

var errNotConnected = errors.New("realtime: channel not connected")

// WebSocketChannel is the gorilla/websocket-backed Channel implementation.
// A single read loop fans inbound messages out to subscribed handlers;
// writes are serialized through a mutex.
type WebSocketChannel struct {
	url    string
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	closed     chan struct{}
	writeMutex sync.Mutex

	handlersMu  sync.Mutex
	handlers    map[int]func(Message)
	nextHandler int
}

// NewWebSocketChannel builds a channel targeting the given websocket URL.
// The connection is not established until Connect.
func NewWebSocketChannel(url string) *WebSocketChannel {
	return &WebSocketChannel{
		url:      url,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[int]func(Message)),
	}
}

// Connect dials the websocket endpoint and starts the read loop. It is a
// no-op when the channel is already connected and replaces a previously
// closed connection otherwise.
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.isClosedLocked() {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: dial %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("realtime: dial %s: %w", c.url, err)
	}

	closed := make(chan struct{})
	c.conn = conn
	c.closed = closed

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go c.readLoop(conn, closed)
	go c.heartbeat(conn, closed)
	return nil
}

// Send writes one message as JSON.
func (c *WebSocketChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	select {
	case <-closed:
		return errNotConnected
	default:
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("realtime: set write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("realtime: write json: %w", err)
	}
	return nil
}

// OnMessage registers a handler for inbound messages.
func (c *WebSocketChannel) OnMessage(handler func(Message)) func() {
	c.handlersMu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = handler
	c.handlersMu.Unlock()
	return func() {
		c.handlersMu.Lock()
		delete(c.handlers, id)
		c.handlersMu.Unlock()
	}
}

// Close tears down the active connection. Subscribed handlers stay
// registered and receive messages again after a reconnect.
func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.markClosedLocked()
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WebSocketChannel) readLoop(conn *websocket.Conn, closed chan struct{}) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.teardown(conn, closed, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.dispatch(msg)
	}
}

func (c *WebSocketChannel) dispatch(msg Message) {
	c.handlersMu.Lock()
	handlers := make([]func(Message), 0, len(c.handlers))
	for _, handler := range c.handlers {
		handlers = append(handlers, handler)
	}
	c.handlersMu.Unlock()
	for _, handler := range handlers {
		handler(msg)
	}
}

func (c *WebSocketChannel) heartbeat(conn *websocket.Conn, closed chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			c.writeMutex.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
			c.writeMutex.Unlock()
			if err != nil {
				c.teardown(conn, closed, err)
				return
			}
		}
	}
}

func (c *WebSocketChannel) teardown(conn *websocket.Conn, closed chan struct{}, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-closed:
		return
	default:
	}
	close(closed)
	_ = conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Debugf("realtime: connection closed: %v", cause)
	}
}

func (c *WebSocketChannel) isClosedLocked() bool {
	if c.closed == nil {
		return true
	}
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *WebSocketChannel) markClosedLocked() {
	if c.closed != nil {
		select {
		case <-c.closed:
		default:
			close(c.closed)
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrorUnauthorized is the ack error string the server uses to signal an
// authorization failure.
const ErrorUnauthorized = "unauthorized"

var (
	// ErrUnauthorized means authorization failed even after the single
	// reconnect-and-retry cycle. Credentials have been cleared.
	ErrUnauthorized = errors.New("ws: unauthorized")

	// ErrClosed means the connection went away while an ack was pending.
	ErrClosed = errors.New("ws: connection closed")

	// ErrAckTimeout means the server never acknowledged within the
	// channel's ack timeout.
	ErrAckTimeout = errors.New("ws: acknowledgement timed out")
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// Authenticator resolves the connection credential for one dial attempt.
// It is invoked on every (re)connection and returns the full header value,
// e.g. "Bearer <token>".
type Authenticator func(ctx context.Context) (string, error)

// Ack is the server's reply to one EmitWithAck exchange.
type Ack struct {
	Error string
	Data  json.RawMessage
}

func (a Ack) Unauthorized() bool { return a.Error == ErrorUnauthorized }

func (a Ack) JSON(v any) error { return json.Unmarshal(a.Data, v) }

// envelope is the wire frame. Client frames carry an id only when an ack is
// expected; server push frames carry no id.
type envelope struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Listener subscribes named server-push events. Remove by passing the same
// pointer back to RemoveEventListener.
type Listener struct {
	SuccessEvent string
	OnSuccess    func(data json.RawMessage)
	ErrorEvent   string
	OnError      func(data json.RawMessage)
}

type Options struct {
	AckTimeout time.Duration
	// OnAuthFailure runs when the retry after reconnect is still
	// unauthorized; the session uses it to wipe credentials.
	OnAuthFailure func()
	Logger        *slog.Logger
	Dialer        *websocket.Dialer
}

type ackResult struct {
	ack Ack
	err error
}

// Channel owns one persistent connection to a namespaced endpoint
// (/conversation, /contacts, /user), multiplexing named events over it.
type Channel struct {
	url  string
	auth Authenticator
	opts Options
	log  *slog.Logger

	connMu sync.Mutex // serializes Connect attempts

	mu        sync.Mutex
	status    Status
	conn      *websocket.Conn
	gen       int // connection generation; stale read pumps detect themselves
	pending   map[string]chan ackResult
	listeners []*Listener

	writeMu sync.Mutex
}

func NewChannel(url string, auth Authenticator, opts Options) *Channel {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		url:     url,
		auth:    auth,
		opts:    opts,
		log:     opts.Logger,
		pending: make(map[string]chan ackResult),
	}
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials the endpoint, resolving credentials through the
// authenticator first. It is idempotent: an already-connected channel
// returns immediately.
func (c *Channel) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	if c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	token, err := c.auth(ctx)
	if err != nil {
		c.setDisconnected()
		return err
	}

	header := http.Header{}
	header.Set("Authorization", token)
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.setDisconnected()
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.status = StatusConnected
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readPump(conn, gen)
	c.log.Debug("channel connected", "url", c.url)
	return nil
}

// Disconnect tears down the active connection. Listeners stay registered.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	c.failPendingLocked(ErrClosed)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Reset disconnects and drops every registered listener. Used when the
// owning store is torn down; later pushes are silently gone, not errors.
func (c *Channel) Reset() {
	c.Disconnect()
	c.mu.Lock()
	c.listeners = nil
	c.mu.Unlock()
}

func (c *Channel) AddEventListener(l *Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Channel) RemoveEventListener(l *Listener) {
	c.mu.Lock()
	for i, cur := range c.listeners {
		if cur == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// Emit sends a fire-and-forget event. No acknowledgement, no retry.
func (c *Channel) Emit(ctx context.Context, event string, data any) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	return c.write(envelope{Event: event, Data: raw})
}

// EmitWithAck sends an event and awaits a single acknowledgement. When the
// ack signals unauthorized it reconnects (forcing a token refresh) and
// retries exactly once; a second unauthorized clears credentials and returns
// ErrUnauthorized.
func (c *Channel) EmitWithAck(ctx context.Context, event string, data any) (Ack, error) {
	ack, err := c.emitWithAckOnce(ctx, event, data)
	if err != nil {
		return ack, err
	}
	if !ack.Unauthorized() {
		return ack, nil
	}

	c.log.Debug("ack unauthorized, reconnecting", "event", event)
	c.Disconnect()
	if err := c.Connect(ctx); err != nil {
		// Only an authorization failure on the redial counts against the
		// credentials; a transport failure stays recoverable.
		if errors.Is(err, ErrUnauthorized) {
			c.authFailure()
			return Ack{}, ErrUnauthorized
		}
		return Ack{}, err
	}

	ack, err = c.emitWithAckOnce(ctx, event, data)
	if err != nil {
		return ack, err
	}
	if ack.Unauthorized() {
		c.authFailure()
		return ack, ErrUnauthorized
	}
	return ack, nil
}

func (c *Channel) emitWithAckOnce(ctx context.Context, event string, data any) (Ack, error) {
	if err := c.Connect(ctx); err != nil {
		return Ack{}, err
	}
	raw, err := marshalData(data)
	if err != nil {
		return Ack{}, err
	}

	id := uuid.NewString()
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(envelope{ID: id, Event: event, Data: raw}); err != nil {
		return Ack{}, err
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.ack, res.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	case <-timer.C:
		return Ack{}, ErrAckTimeout
	}
}

func (c *Channel) write(env envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// readPump drains one connection, resolving acks and dispatching pushes.
// Push handlers run on the pump goroutine, so delivery order is the wire
// order.
func (c *Channel) readPump(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.gen == gen {
				c.conn = nil
				c.status = StatusDisconnected
				c.failPendingLocked(ErrClosed)
			}
			c.mu.Unlock()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("discarding malformed frame", "url", c.url, "err", err)
			continue
		}

		if env.ID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- ackResult{ack: Ack{Error: env.Error, Data: env.Data}}
			}
			continue
		}

		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env envelope) {
	c.mu.Lock()
	listeners := make([]*Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		if l.SuccessEvent == env.Event && l.OnSuccess != nil {
			l.OnSuccess(env.Data)
		}
		if l.ErrorEvent == env.Event && l.OnError != nil {
			l.OnError(env.Data)
		}
	}
}

func (c *Channel) failPendingLocked(err error) {
	for id, ch := range c.pending {
		ch <- ackResult{err: err}
		delete(c.pending, id)
	}
}

func (c *Channel) setDisconnected() {
	c.mu.Lock()
	c.status = StatusDisconnected
	c.mu.Unlock()
}

func (c *Channel) authFailure() {
	if c.opts.OnAuthFailure != nil {
		c.opts.OnAuthFailure()
	}
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

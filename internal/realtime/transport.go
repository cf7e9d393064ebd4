// Package realtime multiplexes GraphQL subscriptions over a single GitLab
// ActionCable WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/duochat/internal/capture"
	"github.com/duochat/internal/retry"
	"github.com/duochat/internal/state"
)

const (
	userAgent = "GitLabDuoChatMac/1.0"

	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	handshakeTimeout = 30 * time.Second
	maxFrameSize     = 4 << 20
)

var (
	// ErrNotAuthenticated means the session had no token or base URL.
	ErrNotAuthenticated = errors.New("realtime: missing authentication")
	// ErrNotConnected means there is no live socket to write to.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrClosed means Disconnect ran while a connect was in flight.
	ErrClosed = errors.New("realtime: transport closed")
)

// Credentials supplies the bearer token and GitLab base URL for a connect.
type Credentials interface {
	AccessToken() string
	BaseURL() string
}

// Dialer opens the WebSocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Handler receives the complete raw frame of a data push.
type Handler func(frame []byte)

// Phase is the connection lifecycle as seen by observers.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseReady
	PhaseReconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseReady:
		return "ready"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ConnState is the observable transport state.
type ConnState struct {
	Phase     Phase
	Confirmed int
	Rejected  int
}

// Options configures a Transport. Zero values select defaults.
type Options struct {
	Dialer    Dialer
	Reconnect *retry.RetryConfig
}

type subscription struct {
	identifier    string
	operationName string
	handler       Handler
}

type pendingSubscription struct {
	query         string
	variables     map[string]any
	operationName string
	handler       Handler
}

// Transport owns one ActionCable connection and its subscriptions.
type Transport struct {
	creds     Credentials
	dialer    Dialer
	reconnect retry.RetryConfig
	logger    zerolog.Logger

	mu sync.Mutex
	// gen increments on every connect and disconnect; receive loops and
	// in-flight dials tagged with an older generation are stale.
	gen             uint64
	conn            *websocket.Conn
	connected       bool
	ready           bool
	subs            map[string]*subscription
	pending         []pendingSubscription
	// flushed maps a placeholder id handed out before welcome to the ids
	// its queued subscribes received at flush, oldest first.
	flushed         map[string][]string
	onReady         func()
	cancelReconnect context.CancelFunc

	writeMu sync.Mutex

	state *state.Store[ConnState]
}

// NewTransport creates a disconnected transport.
func NewTransport(creds Credentials, opts Options) *Transport {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	policy := retry.ReconnectConfig()
	if opts.Reconnect != nil {
		policy = *opts.Reconnect
	}
	return &Transport{
		creds:     creds,
		dialer:    dialer,
		reconnect: policy,
		logger:    log.With().Str("component", "realtime").Logger(),
		subs:      make(map[string]*subscription),
		flushed:   make(map[string][]string),
		state:     state.New(ConnState{}),
	}
}

// OnReady registers the callback run after every welcome, once queued
// subscriptions have been flushed. It runs on the receive goroutine.
func (t *Transport) OnReady(fn func()) {
	t.mu.Lock()
	t.onReady = fn
	t.mu.Unlock()
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	return t.state.Get()
}

// Watch streams connection state changes.
func (t *Transport) Watch() (<-chan ConnState, func()) {
	return t.state.Subscribe()
}

// IsReady reports whether welcome has been received on the live connection.
func (t *Transport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// Connect opens the socket and starts its receive loop. The transport is not
// ready until the server's welcome frame arrives. A pending reconnect is
// superseded.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.stopReconnectLocked()
	t.mu.Unlock()
	return t.connect(ctx)
}

func (t *Transport) connect(ctx context.Context) error {
	token, baseURL := t.creds.AccessToken(), t.creds.BaseURL()
	if token == "" || baseURL == "" {
		return ErrNotAuthenticated
	}
	cableURL, err := CableURL(baseURL)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", baseURL)
	header.Set("User-Agent", userAgent)
	header.Set("Sec-WebSocket-Protocol", strings.Join(Subprotocols, ", "))
	header.Set("Cache-Control", "no-cache")

	t.mu.Lock()
	if err := ctx.Err(); err != nil {
		t.mu.Unlock()
		return err
	}
	old := t.conn
	t.gen++
	gen := t.gen
	t.conn = nil
	t.connected = true
	t.ready = false
	// Subscriptions are bound to the old connection's nonces.
	t.subs = make(map[string]*subscription)
	t.flushed = make(map[string][]string)
	t.setPhaseLocked(PhaseConnecting)
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	t.logger.Info().Str("url", cableURL).Msg("WebSocket connecting")

	conn, resp, err := t.dialer.DialContext(ctx, cableURL, header)
	if err != nil {
		t.mu.Lock()
		if gen == t.gen {
			t.connected = false
			t.setPhaseLocked(PhaseDisconnected)
		}
		t.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("websocket dial: %w (HTTP %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	t.mu.Lock()
	if gen != t.gen || !t.connected {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.mu.Unlock()

	t.logger.Debug().Str("subprotocol", conn.Subprotocol()).Msg("WebSocket open, awaiting welcome")

	go t.receiveLoop(conn, gen)
	return nil
}

// Disconnect closes the socket, cancels any scheduled reconnect and clears
// every subscription and queued subscribe. Calling it again is a no-op.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	wasConnected := t.connected
	t.gen++
	t.conn = nil
	t.connected = false
	t.ready = false
	t.subs = make(map[string]*subscription)
	t.flushed = make(map[string][]string)
	t.pending = nil
	t.stopReconnectLocked()
	t.setPhaseLocked(PhaseDisconnected)
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
	if wasConnected {
		t.logger.Info().Msg("WebSocket disconnected")
	}
}

// Subscribe registers a GraphQL subscription. Before welcome the request is
// queued and the placeholder id operationName_pending is returned; after
// welcome the subscribe frame is sent with a fresh nonce and the id is
// operationName_nonce. A placeholder stays valid for Unsubscribe after the
// queue is flushed.
func (t *Transport) Subscribe(query string, variables map[string]any, operationName string, handler Handler) (string, error) {
	p := pendingSubscription{query: query, variables: variables, operationName: operationName, handler: handler}

	t.mu.Lock()
	if !t.ready {
		t.pending = append(t.pending, p)
		queued := len(t.pending)
		t.mu.Unlock()
		t.logger.Debug().Str("operation", operationName).Int("queued", queued).Msg("Queueing subscription until WebSocket is ready")
		return operationName + "_pending", nil
	}
	gen := t.gen
	t.mu.Unlock()

	return t.subscribeNow(gen, p, "")
}

func (t *Transport) subscribeNow(gen uint64, p pendingSubscription, placeholder string) (string, error) {
	nonce := uuid.NewString()
	ident, err := encodeIdentifier(p.query, p.variables, p.operationName, nonce)
	if err != nil {
		return "", err
	}
	id := p.operationName + "_" + nonce

	t.mu.Lock()
	if gen != t.gen || t.conn == nil {
		t.mu.Unlock()
		return "", ErrNotConnected
	}
	conn := t.conn
	t.subs[id] = &subscription{identifier: ident, operationName: p.operationName, handler: p.handler}
	if placeholder != "" {
		t.flushed[placeholder] = append(t.flushed[placeholder], id)
	}
	active := len(t.subs)
	t.mu.Unlock()

	if err := t.write(conn, command{Command: commandSubscribe, Identifier: ident}); err != nil {
		t.mu.Lock()
		delete(t.subs, id)
		t.dropFlushedLocked(placeholder, id)
		t.mu.Unlock()
		return "", err
	}

	t.logger.Info().Str("operation", p.operationName).Str("id", id).Int("active", active).Msg("Subscribed to GraphQL")
	return id, nil
}

// Unsubscribe sends the unsubscribe command for id. Unknown ids are logged
// and ignored. A placeholder drops the oldest queued subscribe for that
// operation, or once flushed, the oldest live subscription it became.
func (t *Transport) Unsubscribe(id string) error {
	t.mu.Lock()
	if flushedID, ok := t.resolveFlushedLocked(id); ok {
		id = flushedID
	}
	sub, ok := t.subs[id]
	if !ok {
		dropped := t.dropPendingLocked(id)
		t.mu.Unlock()
		if !dropped {
			t.logger.Warn().Str("id", id).Msg("Subscription not found")
		}
		return nil
	}
	delete(t.subs, id)
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := t.write(conn, command{Command: commandUnsubscribe, Identifier: sub.identifier}); err != nil {
		return err
	}
	t.logger.Info().Str("id", id).Msg("Unsubscribed from GraphQL")
	return nil
}

func (t *Transport) resolveFlushedLocked(placeholder string) (string, bool) {
	ids := t.flushed[placeholder]
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		if _, live := t.subs[id]; live {
			t.setFlushedLocked(placeholder, ids)
			return id, true
		}
	}
	delete(t.flushed, placeholder)
	return "", false
}

func (t *Transport) dropFlushedLocked(placeholder, id string) {
	ids := t.flushed[placeholder]
	for i, v := range ids {
		if v == id {
			t.setFlushedLocked(placeholder, append(ids[:i:i], ids[i+1:]...))
			return
		}
	}
}

func (t *Transport) setFlushedLocked(placeholder string, ids []string) {
	if len(ids) == 0 {
		delete(t.flushed, placeholder)
		return
	}
	t.flushed[placeholder] = ids
}

func (t *Transport) dropPendingLocked(id string) bool {
	op, ok := strings.CutSuffix(id, "_pending")
	if !ok {
		return false
	}
	for i, p := range t.pending {
		if p.operationName == op {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Transport) receiveLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReceiveError(conn, gen, err)
			return
		}
		capture.WriteBlob("cable-in", "json", data)
		t.handleFrame(conn, gen, data)
	}
}

func (t *Transport) handleReceiveError(conn *websocket.Conn, gen uint64, err error) {
	_ = conn.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.connected {
		return
	}

	t.logger.Warn().Err(err).Dur("delay", t.reconnect.InitialDelay).Msg("WebSocket receive failed, scheduling reconnect")
	t.conn = nil
	t.ready = false
	t.setPhaseLocked(PhaseReconnecting)
	t.scheduleReconnectLocked()
}

func (t *Transport) scheduleReconnectLocked() {
	t.stopReconnectLocked()
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelReconnect = cancel
	policy := t.reconnect

	go func() {
		defer cancel()
		result := retry.RetryWithBackoff(ctx, policy, func() error {
			return t.connect(ctx)
		}, &t.logger)
		if result.Success || ctx.Err() != nil {
			return
		}
		t.logger.Error().Err(result.LastError).Int("attempts", result.Attempts).Msg("WebSocket reconnect failed")
		t.mu.Lock()
		if t.cancelReconnect != nil && ctx.Err() == nil {
			t.connected = false
			t.setPhaseLocked(PhaseDisconnected)
		}
		t.mu.Unlock()
	}()
}

func (t *Transport) stopReconnectLocked() {
	if t.cancelReconnect != nil {
		t.cancelReconnect()
		t.cancelReconnect = nil
	}
}

func (t *Transport) handleFrame(conn *websocket.Conn, gen uint64, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.logger.Warn().Err(err).Str("raw", string(data)).Msg("Failed to decode WebSocket frame")
		return
	}

	switch frame.Type {
	case TypeWelcome:
		t.logger.Info().Msg("WebSocket connection established")
		t.handleWelcome(gen)
	case TypePing:
		if err := t.write(conn, pong{Type: "pong"}); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to answer ping")
		}
	case TypeConfirmSubscription:
		t.logger.Debug().Str("identifier", frame.Identifier).Msg("Subscription confirmed")
		t.bumpCounter(gen, func(s *ConnState) { s.Confirmed++ })
	case TypeRejectSubscription:
		t.logger.Warn().Str("identifier", frame.Identifier).Msg("Subscription rejected")
		t.bumpCounter(gen, func(s *ConnState) { s.Rejected++ })
	case TypeDisconnect:
		t.logger.Warn().Str("reason", frame.Reason).Msg("Server requested disconnect")
	case "":
	default:
		t.logger.Debug().Str("type", frame.Type).Msg("Unknown WebSocket frame type")
	}

	if frame.isDataPush() {
		t.dispatch(frame.Identifier, data)
	}
}

// handleWelcome drains the pending queue in arrival order before marking the
// connection ready, so subscribes issued meanwhile queue behind it.
func (t *Transport) handleWelcome(gen uint64) {
	for {
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		if len(t.pending) == 0 {
			t.ready = true
			t.setPhaseLocked(PhaseReady)
			cb := t.onReady
			t.mu.Unlock()
			if cb != nil {
				cb()
			}
			return
		}
		queue := t.pending
		t.pending = nil
		t.mu.Unlock()

		t.logger.Debug().Int("count", len(queue)).Msg("Processing pending subscriptions")
		for _, p := range queue {
			if _, err := t.subscribeNow(gen, p, p.operationName+"_pending"); err != nil {
				t.logger.Warn().Err(err).Str("operation", p.operationName).Msg("Failed to flush pending subscription")
			}
		}
	}
}

func (t *Transport) dispatch(ident string, frame []byte) {
	t.mu.Lock()
	var handler Handler
	var id string
	for subID, sub := range t.subs {
		if sub.identifier == ident {
			handler, id = sub.handler, subID
			break
		}
	}
	t.mu.Unlock()

	if handler == nil {
		t.logger.Debug().Str("identifier", ident).Msg("No subscription matches pushed frame")
		return
	}
	t.logger.Debug().Str("id", id).Msg("Dispatching subscription message")
	handler(frame)
}

func (t *Transport) bumpCounter(gen uint64, fn func(*ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	s := t.state.Get()
	fn(&s)
	t.state.Set(s)
}

func (t *Transport) setPhaseLocked(p Phase) {
	s := t.state.Get()
	if s.Phase == p {
		return
	}
	s.Phase = p
	t.state.Set(s)
}

func (t *Transport) write(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	capture.WriteBlob("cable-out", "json", data)
	return nil
}

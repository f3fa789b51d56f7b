package wordimpact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a RealtimeClient. Zero values select defaults.
type RealtimeConfig struct {
	// BaseURL is the REST API base URL; the realtime endpoint is derived
	// from it by stripping the REST path (for example /api/v1).
	BaseURL string
	// Path is the Socket.IO path. Default "/socket.io/".
	Path string

	CredentialMode CredentialMode
	Token          string
	CookieJar      http.CookieJar
	HTTPClient     *http.Client

	// Transports in preference order. Default websocket, then polling.
	Transports     []string
	ConnectTimeout time.Duration

	// Transport-level retries absorb brief blips inside one connect
	// attempt. Negative TransportRetries disables them.
	TransportRetries       int
	TransportRetryDelay    time.Duration
	TransportRetryMaxDelay time.Duration

	// Application-level reconnection for sustained outages.
	DisableReconnect     bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	Scheduler Scheduler
	Logger    *slog.Logger

	dialer dialer
}

func (c *RealtimeConfig) defaults() {
	if c.Path == "" {
		c.Path = "/socket.io/"
	}
	if c.CredentialMode == "" {
		c.CredentialMode = CredentialCookie
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if len(c.Transports) == 0 {
		c.Transports = []string{TransportWebSocket, TransportPolling}
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.TransportRetries == 0 {
		c.TransportRetries = 5
	}
	if c.TransportRetryDelay == 0 {
		c.TransportRetryDelay = 1 * time.Second
	}
	if c.TransportRetryMaxDelay == 0 {
		c.TransportRetryMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Scheduler == nil {
		c.Scheduler = SystemScheduler
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConnectionState represents the connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const writeTimeout = 10 * time.Second

// outboundMessage is the argument of every client-to-server event.
type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single live Socket.IO connection of a process.
//
// All methods are safe for concurrent use and never fail for connectivity
// reasons: failures are logged and handed to the reconnection policy.
type RealtimeClient struct {
	config   *RealtimeConfig
	ep       *endpoint
	epErr    error
	dialer   dialer
	auth     any
	registry *Registry
	policy   *ReconnectPolicy
	logger   *slog.Logger

	mu     sync.Mutex
	state  ConnectionState
	conn   engineConn
	sid    string
	gen    uint64
	cancel context.CancelFunc
	refs   int

	writeMu sync.Mutex
}

// NewRealtimeClient creates a disconnected client. Call Connect or Acquire
// to open the connection.
func NewRealtimeClient(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	rc := &RealtimeClient{
		config:   &cfg,
		state:    StateDisconnected,
		logger:   cfg.Logger.With("component", "realtime"),
		registry: NewRegistry(cfg.Logger),
		policy: NewReconnectPolicy(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay,
			cfg.MaxReconnectAttempts, cfg.Scheduler),
	}
	rc.ep, rc.epErr = deriveEndpoint(cfg.BaseURL, cfg.Path)

	// Long-polls outlive a REST timeout; contexts bound every request.
	httpClient := *cfg.HTTPClient
	httpClient.Timeout = 0
	header := http.Header{}
	switch cfg.CredentialMode {
	case CredentialCookie:
		if cfg.CookieJar != nil {
			httpClient.Jar = cfg.CookieJar
		}
	case CredentialToken:
		if cfg.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Token)
			rc.auth = map[string]string{"token": cfg.Token}
		}
	}

	rc.dialer = cfg.dialer
	if rc.dialer == nil {
		var d dialer = &transportDialer{
			transports: cfg.Transports,
			opts:       dialOptions{header: header, httpClient: &httpClient},
			timeout:    cfg.ConnectTimeout,
		}
		if cfg.TransportRetries > 0 {
			d = &retryDialer{
				inner:   d,
				retries: cfg.TransportRetries,
				base:    cfg.TransportRetryDelay,
				max:     cfg.TransportRetryMaxDelay,
				logger:  rc.logger,
			}
		}
		rc.dialer = d
	}
	return rc
}

var (
	sharedMu     sync.Mutex
	sharedClient *RealtimeClient
)

// Shared returns the process-wide client, creating it from config on the
// first call. Later calls ignore config.
func Shared(config *RealtimeConfig) *RealtimeClient {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedClient == nil {
		sharedClient = NewRealtimeClient(config)
	}
	return sharedClient
}

// On registers a listener for a realtime event.
func (rc *RealtimeClient) On(event string, l Listener) Subscription {
	return rc.registry.On(event, l)
}

// Off removes a listener registered with On.
func (rc *RealtimeClient) Off(sub Subscription) {
	rc.registry.Off(sub)
}

// Registry exposes the listener registry.
func (rc *RealtimeClient) Registry() *Registry { return rc.registry }

// Policy exposes the application-level reconnection policy.
func (rc *RealtimeClient) Policy() *ReconnectPolicy { return rc.policy }

// State returns the current connection state.
func (rc *RealtimeClient) State() ConnectionState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// IsConnected reports whether a live connection exists and acknowledged.
func (rc *RealtimeClient) IsConnected() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state == StateConnected && rc.conn != nil
}

// Acquire registers the caller as a lifecycle owner and connects.
func (rc *RealtimeClient) Acquire() {
	rc.mu.Lock()
	rc.refs++
	rc.mu.Unlock()
	rc.Connect()
}

// Release drops one lifecycle owner; the last release disconnects.
func (rc *RealtimeClient) Release() {
	rc.mu.Lock()
	if rc.refs == 0 {
		rc.mu.Unlock()
		return
	}
	rc.refs--
	last := rc.refs == 0
	rc.mu.Unlock()
	if last {
		rc.Disconnect()
	}
}

// Connect opens the connection in the background. It is a no-op while a
// connection is live or being established.
func (rc *RealtimeClient) Connect() {
	rc.connect(0, false)
}

// reconnect is the retry callback armed for generation gen. It does nothing
// once a Connect or Disconnect has taken over.
func (rc *RealtimeClient) reconnect(gen uint64) {
	rc.connect(gen, true)
}

func (rc *RealtimeClient) connect(gen uint64, retry bool) {
	rc.mu.Lock()
	if retry && rc.gen != gen {
		rc.mu.Unlock()
		rc.logger.Debug("realtime stale reconnect ignored", "gen", gen)
		return
	}
	if rc.state == StateConnected || rc.state == StateConnecting {
		rc.mu.Unlock()
		return
	}
	if rc.epErr != nil {
		rc.mu.Unlock()
		rc.logger.Error("realtime endpoint unavailable", "error", rc.epErr)
		return
	}

	old := rc.conn
	rc.conn = nil
	if rc.cancel != nil {
		rc.cancel()
	}
	rc.gen++
	next := rc.gen
	ctx, cancel := context.WithCancel(context.Background())
	rc.cancel = cancel
	prev := rc.setStateLocked(StateConnecting)
	rc.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	rc.emitState(prev, StateConnecting)
	go rc.run(ctx, next)
}

// Disconnect cancels pending reconnects and in-flight dials, closes the
// connection and moves to StateDisconnected. Idempotent.
func (rc *RealtimeClient) Disconnect() {
	rc.mu.Lock()
	rc.gen++
	conn := rc.conn
	cancel := rc.cancel
	rc.conn = nil
	rc.cancel = nil
	rc.sid = ""
	prev := rc.setStateLocked(StateDisconnected)
	rc.mu.Unlock()

	rc.policy.Reset()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		ctx, done := context.WithTimeout(context.Background(), time.Second)
		_ = rc.write(ctx, conn, "41")
		done()
		_ = conn.Close()
	}

	if prev != StateDisconnected {
		rc.emitState(prev, StateDisconnected)
	}
	if conn != nil {
		rc.logger.Info("realtime disconnected", "reason", ReasonClientDisconnect)
		rc.emit(EventDisconnect, DisconnectEvent{Reason: ReasonClientDisconnect})
	}
}

// SendMessage emits event with {type, data} when connected. Otherwise it
// logs, triggers Connect and drops the message; nothing is queued.
func (rc *RealtimeClient) SendMessage(event string, payload any) {
	rc.mu.Lock()
	conn := rc.conn
	connected := rc.state == StateConnected && conn != nil
	rc.mu.Unlock()

	if !connected {
		rc.logger.Info("realtime not connected, dropping message", "event", event)
		rc.Connect()
		return
	}

	frame, err := encodeEvent(event, outboundMessage{Type: event, Data: payload})
	if err != nil {
		rc.logger.Error("realtime encode failed", "event", event, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := rc.write(ctx, conn, "4"+frame); err != nil {
		rc.logger.Warn("realtime send failed", "event", event, "error", err)
	}
}

// ── Connection lifecycle ─────────────────────────────────

func (rc *RealtimeClient) run(ctx context.Context, gen uint64) {
	conn, hs, err := rc.open(ctx)
	if err != nil {
		rc.connectFailed(gen, err)
		return
	}

	rc.mu.Lock()
	if rc.gen != gen {
		rc.mu.Unlock()
		_ = conn.Close()
		return
	}
	rc.conn = conn
	rc.sid = hs.SID
	prev := rc.setStateLocked(StateConnected)
	rc.mu.Unlock()

	rc.policy.Reset()
	rc.logger.Info("realtime connected", "transport", conn.Transport(), "sid", hs.SID)
	rc.emitState(prev, StateConnected)
	rc.emit(EventConnect, ConnectEvent{Transport: conn.Transport(), SID: hs.SID})

	rc.readLoop(ctx, gen, conn, hs)
}

// open dials, reads the Engine.IO handshake and completes the Socket.IO
// CONNECT exchange.
func (rc *RealtimeClient) open(ctx context.Context) (engineConn, *handshake, error) {
	conn, err := rc.dialer.dial(ctx, rc.ep)
	if err != nil {
		return nil, nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, rc.config.ConnectTimeout)
	defer cancel()

	hs, err := rc.handshake(hctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, hs, nil
}

func (rc *RealtimeClient) handshake(ctx context.Context, conn engineConn) (*handshake, error) {
	packet, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	hs, err := decodeHandshake(packet)
	if err != nil {
		return nil, err
	}

	connect, err := encodeConnect(rc.auth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := rc.write(ctx, conn, "4"+connect); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	for {
		packet, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		if packet == "" {
			continue
		}
		switch packet[0] {
		case enginePing:
			if err := rc.write(ctx, conn, string(enginePong)); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
			}
		case engineClose:
			return nil, fmt.Errorf("%w: closed by server", ErrHandshake)
		case engineMessage:
			typ, payload, err := parseSocketPacket(packet[1:])
			if err != nil {
				return nil, err
			}
			switch typ {
			case socketConnect:
				return hs, nil
			case socketConnectError:
				return nil, fmt.Errorf("%w: %s", ErrHandshake, connectErrorMessage(payload))
			}
		}
	}
}

func (rc *RealtimeClient) readLoop(ctx context.Context, gen uint64, conn engineConn, hs *handshake) {
	window := hs.heartbeatWindow()
	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if window > 0 {
			readCtx, cancel = context.WithTimeout(ctx, window)
		}
		packet, err := conn.Read(readCtx)
		timedOut := errors.Is(readCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			reason := ReasonTransportError
			switch {
			case timedOut:
				reason = ReasonPingTimeout
			case errors.Is(err, errConnClosed):
				reason = ReasonTransportClose
			}
			rc.logger.Warn("realtime connection lost", "reason", reason, "error", err)
			rc.lost(gen, reason)
			return
		}
		if packet == "" {
			continue
		}

		switch packet[0] {
		case enginePing:
			wctx, done := context.WithTimeout(ctx, writeTimeout)
			if err := rc.write(wctx, conn, string(enginePong)); err != nil {
				rc.logger.Debug("realtime pong failed", "error", err)
			}
			done()
		case engineClose:
			rc.lost(gen, ReasonTransportClose)
			return
		case engineMessage:
			if reason, stop := rc.handleSocketPacket(packet[1:]); stop {
				rc.lost(gen, reason)
				return
			}
		case enginePong, engineNoop, engineUpgrade:
		default:
			rc.logger.Debug("realtime unknown packet", "packet", truncate(packet, 32))
		}
	}
}

// handleSocketPacket dispatches one Socket.IO packet. It reports stop=true
// when the server ended the session.
func (rc *RealtimeClient) handleSocketPacket(data string) (DisconnectReason, bool) {
	typ, payload, err := parseSocketPacket(data)
	if err != nil {
		rc.logger.Warn("realtime malformed packet", "error", err)
		return "", false
	}

	switch typ {
	case socketDisconnect:
		return ReasonServerDisconnect, true
	case socketConnectError:
		rc.logger.Warn("realtime session rejected", "message", connectErrorMessage(payload))
		return ReasonServerDisconnect, true
	case socketEvent:
		name, args, err := parseEventArgs(payload)
		if err != nil {
			rc.logger.Warn("realtime malformed event", "error", err)
			return "", false
		}
		ev, err := decodeEvent(name, args)
		if err != nil {
			rc.logger.Warn("realtime dropped event", "event", name, "error", err)
			return "", false
		}
		if se, ok := ev.(ServerErrorEvent); ok {
			rc.logger.Warn("realtime server error", "message", se.Message)
		}
		rc.emit(name, ev)
	}
	return "", false
}

func (rc *RealtimeClient) connectFailed(gen uint64, err error) {
	rc.mu.Lock()
	if rc.gen != gen {
		rc.mu.Unlock()
		return
	}
	rc.cancel = nil
	rc.mu.Unlock()

	rc.logger.Warn("realtime connect failed", "error", err)
	rc.emit(EventConnectError, ConnectErrorEvent{Err: err})
	rc.retry(gen)
}

func (rc *RealtimeClient) lost(gen uint64, reason DisconnectReason) {
	rc.mu.Lock()
	if rc.gen != gen {
		rc.mu.Unlock()
		return
	}
	conn := rc.conn
	rc.conn = nil
	rc.sid = ""
	if rc.cancel != nil {
		rc.cancel()
		rc.cancel = nil
	}
	prev := rc.setStateLocked(StateDisconnected)
	rc.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	rc.emitState(prev, StateDisconnected)
	rc.emit(EventDisconnect, DisconnectEvent{Reason: reason})

	if reason.Retryable() {
		rc.retry(gen)
	}
}

// retry hands a failure to the reconnection policy.
func (rc *RealtimeClient) retry(gen uint64) {
	if rc.config.DisableReconnect {
		rc.settle(gen, StateDisconnected)
		return
	}
	if !rc.settle(gen, StateReconnecting) {
		return
	}

	attempt, delay, ok := rc.policy.Schedule(func() { rc.reconnect(gen) })
	if !ok {
		rc.settle(gen, StateDisconnected)
		rc.logger.Warn("realtime reconnect attempts exhausted", "attempts", attempt)
		rc.emit(EventReconnectExhausted, ReconnectExhaustedEvent{Attempts: attempt})
		return
	}
	rc.logger.Info("realtime reconnect scheduled", "attempt", attempt, "delay", delay)
	rc.emit(EventReconnecting, ReconnectingEvent{Attempt: attempt, Delay: delay})
}

// settle moves an idle connection generation to state. It returns false if
// another Connect or Disconnect has taken over since.
func (rc *RealtimeClient) settle(gen uint64, state ConnectionState) bool {
	rc.mu.Lock()
	if rc.gen != gen {
		rc.mu.Unlock()
		return false
	}
	prev := rc.setStateLocked(state)
	rc.mu.Unlock()
	if prev != state {
		rc.emitState(prev, state)
	}
	return true
}

func (rc *RealtimeClient) write(ctx context.Context, conn engineConn, packet string) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	return conn.Write(ctx, packet)
}

func (rc *RealtimeClient) setStateLocked(s ConnectionState) ConnectionState {
	prev := rc.state
	rc.state = s
	return prev
}

func (rc *RealtimeClient) emitState(from, to ConnectionState) {
	rc.emit(EventStateChange, StateChangeEvent{Old: from, New: to})
}

func (rc *RealtimeClient) emit(event string, ev Event) {
	rc.registry.emit(event, ev)
}

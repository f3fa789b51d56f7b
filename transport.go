package wordimpact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

const maxPacketSize = 1 << 20

// ============================================================================
// Endpoint
// ============================================================================

// restSuffix matches the REST mount point at the end of an API base URL.
var restSuffix = regexp.MustCompile(`/api(/v[0-9]+)?/?$`)

// endpoint is the realtime server address derived from the API base URL.
type endpoint struct {
	base *url.URL // scheme, host and any prefix in front of the REST mount
	path string   // Socket.IO path, "/socket.io/"
}

// deriveEndpoint strips the REST path suffix (such as /api/v1) from baseURL
// and joins the Socket.IO path onto what remains.
func deriveEndpoint(baseURL, path string) (*endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", baseURL)
	}
	base := *u
	base.Path = strings.TrimRight(restSuffix.ReplaceAllString(u.Path, ""), "/")
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""

	if path == "" {
		path = "/socket.io/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return &endpoint{base: &base, path: path}, nil
}

func (e *endpoint) url(transport, sid string) string {
	u := *e.base
	u.Path = e.base.Path + e.path
	if transport == TransportWebSocket {
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	}
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", transport)
	if sid != "" {
		q.Set("sid", sid)
	}
	if transport == TransportPolling {
		q.Set("t", strconv.FormatInt(time.Now().UnixNano(), 36))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ============================================================================
// Engine Connections
// ============================================================================

// engineConn carries Engine.IO packets, one text packet per call.
type engineConn interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, packet string) error
	Close() error
	Transport() string
}

// errConnClosed is returned by reads on a connection the remote closed
// cleanly; anything else from Read counts as a transport error.
var errConnClosed = errors.New("realtime: connection closed")

type dialOptions struct {
	header     http.Header
	httpClient *http.Client
}

type dialer interface {
	dial(ctx context.Context, ep *endpoint) (engineConn, error)
}

// ── WebSocket ────────────────────────────────────────────

type wsConn struct {
	conn *websocket.Conn
}

func dialWebSocket(ctx context.Context, ep *endpoint, opts dialOptions) (engineConn, error) {
	// nhooyr rejects clients with a Timeout; the context bounds the dial.
	hc := *opts.httpClient
	hc.Timeout = 0

	conn, _, err := websocket.Dial(ctx, ep.url(TransportWebSocket, ""), &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: opts.header.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxPacketSize)
	return &wsConn{conn: conn}, nil
}

func (w *wsConn) Read(ctx context.Context) (string, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
			websocket.CloseStatus(err) == websocket.StatusGoingAway {
			return "", errConnClosed
		}
		return "", err
	}
	return string(data), nil
}

func (w *wsConn) Write(ctx context.Context, packet string) error {
	return w.conn.Write(ctx, websocket.MessageText, []byte(packet))
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

func (w *wsConn) Transport() string { return TransportWebSocket }

// ── Long-polling ─────────────────────────────────────────

type pollingConn struct {
	client *http.Client
	ep     *endpoint
	header http.Header
	sid    string

	mu      sync.Mutex
	pending []string

	closeCtx context.Context
	closeFn  context.CancelFunc
	once     sync.Once
}

func dialPolling(ctx context.Context, ep *endpoint, opts dialOptions) (engineConn, error) {
	closeCtx, closeFn := context.WithCancel(context.Background())
	p := &pollingConn{
		client:   opts.httpClient,
		ep:       ep,
		header:   opts.header.Clone(),
		closeCtx: closeCtx,
		closeFn:  closeFn,
	}

	packets, err := p.poll(ctx, "")
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	if len(packets) == 0 {
		closeFn()
		return nil, fmt.Errorf("%w: empty polling handshake", ErrHandshake)
	}
	hs, err := decodeHandshake(packets[0])
	if err != nil {
		closeFn()
		return nil, err
	}
	p.sid = hs.SID
	p.pending = packets
	return p, nil
}

func (p *pollingConn) Read(ctx context.Context) (string, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		packet := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()
		return packet, nil
	}
	p.mu.Unlock()

	for {
		ctx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(p.closeCtx, cancel)
		packets, err := p.poll(ctx, p.sid)
		stop()
		cancel()
		if err != nil {
			if p.closeCtx.Err() != nil {
				return "", errConnClosed
			}
			return "", err
		}
		if len(packets) == 0 {
			continue
		}
		p.mu.Lock()
		p.pending = append(p.pending, packets[1:]...)
		p.mu.Unlock()
		return packets[0], nil
	}
}

func (p *pollingConn) poll(ctx context.Context, sid string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ep.url(TransportPolling, sid), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range p.header {
		req.Header[k] = v
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPacketSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling HTTP %d: %s", resp.StatusCode, truncate(string(body), 64))
	}
	return splitPayload(string(body)), nil
}

func (p *pollingConn) Write(ctx context.Context, packet string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ep.url(TransportPolling, p.sid), bytes.NewBufferString(packet))
	if err != nil {
		return err
	}
	for k, v := range p.header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polling HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p *pollingConn) Close() error {
	var err error
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = p.Write(ctx, string(engineClose))
		p.closeFn()
	})
	return err
}

func (p *pollingConn) Transport() string { return TransportPolling }

// splitPayload splits a long-polling body into packets.
func splitPayload(body string) []string {
	if body == "" {
		return nil
	}
	parts := strings.Split(body, recordSeparator)
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ============================================================================
// Dialers
// ============================================================================

// transportDialer tries each transport in preference order.
// Each attempt is bounded by timeout.
type transportDialer struct {
	transports []string
	opts       dialOptions
	timeout    time.Duration
}

func (d *transportDialer) dial(ctx context.Context, ep *endpoint) (engineConn, error) {
	var errs []error
	for _, t := range d.transports {
		var (
			conn engineConn
			err  error
		)
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		switch t {
		case TransportWebSocket:
			conn, err = dialWebSocket(attemptCtx, ep, d.opts)
		case TransportPolling:
			conn, err = dialPolling(attemptCtx, ep, d.opts)
		default:
			err = fmt.Errorf("unknown transport %q", t)
		}
		cancel()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// retryDialer retries brief dial failures before the application policy
// sees them. Delay doubles from base up to max.
type retryDialer struct {
	inner   dialer
	retries int
	base    time.Duration
	max     time.Duration
	logger  *slog.Logger
}

func (d *retryDialer) dial(ctx context.Context, ep *endpoint) (engineConn, error) {
	delay := d.base
	for i := 0; ; i++ {
		conn, err := d.inner.dial(ctx, ep)
		if err == nil {
			return conn, nil
		}
		if i >= d.retries || ctx.Err() != nil {
			return nil, err
		}
		d.logger.Debug("realtime dial failed, retrying", "attempt", i+1, "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > d.max {
			delay = d.max
		}
	}
}

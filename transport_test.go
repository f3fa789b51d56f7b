package wordimpact

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveEndpoint(t *testing.T) {
	tests := []struct {
		base    string
		path    string
		ws      string
		polling string
	}{
		{"http://lms.test/api/v1", "", "ws://lms.test/socket.io/?EIO=4&transport=websocket", "http://lms.test/socket.io/"},
		{"https://lms.test/api/v1/", "", "wss://lms.test/socket.io/?EIO=4&transport=websocket", "https://lms.test/socket.io/"},
		{"https://lms.test/lms/api", "", "wss://lms.test/lms/socket.io/?EIO=4&transport=websocket", "https://lms.test/lms/socket.io/"},
		{"http://localhost:8080", "", "ws://localhost:8080/socket.io/?EIO=4&transport=websocket", "http://localhost:8080/socket.io/"},
		{"http://lms.test/api/v2?x=1", "rt", "ws://lms.test/rt/?EIO=4&transport=websocket", "http://lms.test/rt/"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			ep, err := deriveEndpoint(tt.base, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.ws, ep.url(TransportWebSocket, ""))
			assert.True(t, strings.HasPrefix(ep.url(TransportPolling, "abc"), tt.polling+"?EIO=4&sid=abc&t="),
				ep.url(TransportPolling, "abc"))
		})
	}

	for _, bad := range []string{"ftp://lms.test", "http://", "::nope"} {
		_, err := deriveEndpoint(bad, "")
		assert.Error(t, err, bad)
	}
}

func TestSplitPayload(t *testing.T) {
	assert.Nil(t, splitPayload(""))
	assert.Equal(t, []string{"0{}", "40"}, splitPayload("0{}\x1e40\x1e"))
	assert.Equal(t, []string{"6"}, splitPayload("6"))
}

type stubDialer struct {
	errs  []error
	calls int
}

func (d *stubDialer) dial(context.Context, *endpoint) (engineConn, error) {
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	return newFakeConn(), nil
}

func TestRetryDialer(t *testing.T) {
	t.Run("recovers from brief failures", func(t *testing.T) {
		inner := &stubDialer{errs: []error{errDialRefused, errDialRefused}}
		d := &retryDialer{inner: inner, retries: 5, base: time.Millisecond, max: 2 * time.Millisecond, logger: discardLogger()}
		conn, err := d.dial(context.Background(), nil)
		require.NoError(t, err)
		assert.NotNil(t, conn)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("gives up after retries", func(t *testing.T) {
		inner := &stubDialer{errs: []error{errDialRefused, errDialRefused, errDialRefused}}
		d := &retryDialer{inner: inner, retries: 2, base: time.Millisecond, max: time.Millisecond, logger: discardLogger()}
		_, err := d.dial(context.Background(), nil)
		assert.ErrorIs(t, err, errDialRefused)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("stops on cancel", func(t *testing.T) {
		inner := &stubDialer{errs: []error{errDialRefused, errDialRefused}}
		d := &retryDialer{inner: inner, retries: 5, base: time.Hour, max: time.Hour, logger: discardLogger()}
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := d.dial(ctx, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, inner.calls)
	})
}

func TestTransportDialerUnknownTransport(t *testing.T) {
	d := &transportDialer{transports: []string{"carrier-pigeon"}, timeout: time.Second}
	_, err := d.dial(context.Background(), nil)
	assert.ErrorContains(t, err, "unknown transport")
}

// ── Socket.IO test servers ───────────────────────────────

const serverOpen = `0{"sid":"eio-srv","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`

// wsServer speaks just enough Engine.IO/Socket.IO over gorilla/websocket.
type wsServer struct {
	upgrader websocket.Upgrader
	received chan string

	mu     sync.Mutex
	header http.Header
	query  string
	path   string
}

func newWSServer() *wsServer {
	return &wsServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		received: make(chan string, 32),
	}
}

func (s *wsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.header = r.Header.Clone()
	s.query = r.URL.RawQuery
	s.path = r.URL.Path
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(serverOpen))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := string(data)
		s.received <- msg
		if strings.HasPrefix(msg, "40") {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"sio-srv"}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["new_notification",{"notification":{"title":"Lesson unlocked"}}]`))
		}
	}
}

func waitReceived(t *testing.T, ch <-chan string, prefix string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			if strings.HasPrefix(msg, prefix) {
				return msg
			}
		case <-deadline:
			t.Fatalf("server never received %q", prefix)
			return ""
		}
	}
}

func TestRealtimeOverWebSocket(t *testing.T) {
	srv := newWSServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	rc := NewRealtimeClient(&RealtimeConfig{
		BaseURL:          ts.URL + "/api/v1",
		CredentialMode:   CredentialToken,
		Token:            "jwt-abc",
		TransportRetries: -1,
		Scheduler:        &fakeScheduler{},
		Logger:           discardLogger(),
	})
	defer rc.Disconnect()

	notified := make(chan NewNotificationEvent, 1)
	rc.On(EventNewNotification, func(ev Event) { notified <- ev.(NewNotificationEvent) })
	rc.Connect()

	assert.Equal(t, `40{"token":"jwt-abc"}`, waitReceived(t, srv.received, "40"))
	select {
	case ev := <-notified:
		assert.Equal(t, "Lesson unlocked", ev.Notification.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("no new_notification delivered")
	}
	require.Eventually(t, rc.IsConnected, waitFor, tick)

	rc.SendMessage(EventPing, struct{}{})
	assert.Equal(t, `42["ping",{"type":"ping","data":{}}]`, waitReceived(t, srv.received, "42"))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "/socket.io/", srv.path)
	assert.Equal(t, "EIO=4&transport=websocket", srv.query)
	assert.Equal(t, "Bearer jwt-abc", srv.header.Get("Authorization"))
}

// pollingServer refuses websocket upgrades and serves long-polling.
type pollingServer struct {
	out   chan string
	posts chan string

	mu      sync.Mutex
	cookies []string
}

func newPollingServer() *pollingServer {
	return &pollingServer{out: make(chan string, 32), posts: make(chan string, 32)}
}

func (s *pollingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("transport") != TransportPolling {
		http.Error(w, "transport unknown", http.StatusBadRequest)
		return
	}
	if c, err := r.Cookie("session"); err == nil {
		s.mu.Lock()
		s.cookies = append(s.cookies, c.Value)
		s.mu.Unlock()
	}

	switch r.Method {
	case http.MethodGet:
		if q.Get("sid") == "" {
			_, _ = io.WriteString(w, serverOpen)
			return
		}
		var packets []string
		select {
		case p := <-s.out:
			packets = append(packets, p)
		case <-time.After(100 * time.Millisecond):
			packets = append(packets, "6")
		case <-r.Context().Done():
			return
		}
	drain:
		for {
			select {
			case p := <-s.out:
				packets = append(packets, p)
			default:
				break drain
			}
		}
		_, _ = io.WriteString(w, strings.Join(packets, recordSeparator))

	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		for _, p := range splitPayload(string(body)) {
			s.posts <- p
			if strings.HasPrefix(p, "40") {
				s.out <- `40{"sid":"sio-poll"}`
				s.out <- `42["new_message",{"message":{"id":"m-poll","content":"hello","sender":{"id":"admin-1"}}}]`
			}
		}
		_, _ = io.WriteString(w, "ok")
	}
}

func TestRealtimeFallsBackToPolling(t *testing.T) {
	srv := newPollingServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(ts.URL + "/api/v1")
	require.NoError(t, client.SetSessionCookie(&http.Cookie{Name: "session", Value: "cookie-1"}))

	rc := client.Realtime(&RealtimeConfig{
		TransportRetries: -1,
		Scheduler:        &fakeScheduler{},
		Logger:           discardLogger(),
	})

	pushed := make(chan NewMessageEvent, 1)
	connected := make(chan ConnectEvent, 1)
	rc.On(EventNewMessage, func(ev Event) { pushed <- ev.(NewMessageEvent) })
	rc.On(EventConnect, func(ev Event) { connected <- ev.(ConnectEvent) })
	rc.Connect()

	select {
	case ev := <-connected:
		assert.Equal(t, TransportPolling, ev.Transport)
		assert.Equal(t, "eio-srv", ev.SID)
	case <-time.After(2 * time.Second):
		t.Fatal("never connected over polling")
	}
	select {
	case ev := <-pushed:
		assert.Equal(t, "m-poll", ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no new_message delivered")
	}

	assert.Equal(t, "40", waitReceived(t, srv.posts, "40"))
	rc.Disconnect()
	assert.Equal(t, "41", waitReceived(t, srv.posts, "41"))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Contains(t, srv.cookies, "cookie-1", "cookie credentials ride on every request")
}

func TestPollingDialRejectsBadHandshake(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "")
	}))
	defer ts.Close()

	ep, err := deriveEndpoint(ts.URL, "")
	require.NoError(t, err)
	_, err = dialPolling(context.Background(), ep, dialOptions{header: http.Header{}, httpClient: ts.Client()})
	assert.True(t, errors.Is(err, ErrHandshake), err)
}

package wordimpact

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ── Scheduler ────────────────────────────────────────────

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeScheduler is a manual clock. Callbacks run on the goroutine calling
// Advance.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of armed timers.
func (s *fakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Delays returns the delay of every timer ever armed, in order.
func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

// Advance moves the clock forward, firing due timers in deadline order.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var due []*fakeTimer
		for _, t := range s.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			s.now = target
			s.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		next.fired = true
		s.now = next.at
		s.mu.Unlock()
		next.f()
	}
}

// ── Engine connection ────────────────────────────────────

// fakeConn is a scripted engine connection. Packets pushed with send are
// returned by Read in order.
type fakeConn struct {
	inbound chan string
	fail    chan error
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []string
}

const testOpenPacket = `0{"sid":"eio-1","upgrades":[],"pingInterval":0,"pingTimeout":0,"maxPayload":1000000}`

func newFakeConn(packets ...string) *fakeConn {
	c := &fakeConn{
		inbound: make(chan string, 64),
		fail:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	for _, p := range packets {
		c.inbound <- p
	}
	return c
}

// acceptingConn completes the handshake as soon as it is read.
func acceptingConn() *fakeConn {
	return newFakeConn(testOpenPacket, `40{"sid":"sio-1"}`)
}

func (c *fakeConn) send(packet string) { c.inbound <- packet }

func (c *fakeConn) breakWith(err error) { c.fail <- err }

func (c *fakeConn) Read(ctx context.Context) (string, error) {
	select {
	case p := <-c.inbound:
		return p, nil
	default:
	}
	select {
	case p := <-c.inbound:
		return p, nil
	case err := <-c.fail:
		return "", err
	case <-c.done:
		return "", errConnClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, packet string) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, packet)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Transport() string { return TransportWebSocket }

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ── Dialer ───────────────────────────────────────────────

var errDialRefused = errors.New("dial refused")

// fakeDialer hands out queued connections; with none queued it fails.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials atomic.Int32
}

func (d *fakeDialer) queue(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conns...)
}

func (d *fakeDialer) dial(context.Context, *endpoint) (engineConn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, errDialRefused
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func newTestRealtime(d *fakeDialer, s *fakeScheduler) *RealtimeClient {
	return NewRealtimeClient(&RealtimeConfig{
		BaseURL:   "http://lms.test/api/v1",
		Scheduler: s,
		Logger:    discardLogger(),
		dialer:    d,
	})
}

// recorder collects events from a registry.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(t interface {
	On(string, Listener) Subscription
}, names ...string) {
	for _, n := range names {
		t.On(n, func(ev Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		})
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, ev := range r.all() {
		if ev.EventName() == name {
			n++
		}
	}
	return n
}

// ── Transport ────────────────────────────────────────────

// fakeTransport records lifecycle calls made by the session layer.
type fakeTransport struct {
	reg *Registry

	mu        sync.Mutex
	connected bool
	connects  int
	acquires  int
	releases  int
	sent      []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{reg: NewRegistry(discardLogger())}
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) SendMessage(event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, event)
}

func (f *fakeTransport) On(event string, l Listener) Subscription { return f.reg.On(event, l) }
func (f *fakeTransport) Off(sub Subscription)                    { f.reg.Off(sub) }

func (f *fakeTransport) Acquire() {
	f.mu.Lock()
	f.acquires++
	f.mu.Unlock()
	f.Connect()
}

func (f *fakeTransport) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	f.connected = false
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) emit(ev Event) { f.reg.emit(ev.EventName(), ev) }

// ── Source ───────────────────────────────────────────────

type fakeSource struct {
	mu            sync.Mutex
	calls         map[string]int
	unread        UnreadCounts
	notifications *NotificationPage
	messages      *MessagePage
	err           error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:         make(map[string]int),
		notifications: &NotificationPage{},
		messages:      &MessagePage{},
	}
}

func (s *fakeSource) record(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	return s.err
}

func (s *fakeSource) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *fakeSource) UnreadCounts(context.Context) (UnreadCounts, error) {
	if err := s.record("unread"); err != nil {
		return UnreadCounts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread, nil
}

func (s *fakeSource) NotificationsPage(_ context.Context, opts *NotificationListOptions) (*NotificationPage, error) {
	if err := s.record("notifications"); err != nil {
		return nil, err
	}
	if opts.Page != 1 {
		s.record("notifications:page!=1")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications, nil
}

func (s *fakeSource) ConversationPage(context.Context, *PageOptions) (*MessagePage, error) {
	if err := s.record("messages"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages, nil
}

func (s *fakeSource) MarkMessageRead(context.Context, string) error {
	return s.record("markMessage")
}

func (s *fakeSource) MarkNotificationRead(context.Context, string) error {
	return s.record("markNotification")
}

func (s *fakeSource) MarkAllNotificationsRead(context.Context) error {
	return s.record("markAllNotifications")
}

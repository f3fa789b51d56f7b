package wordimpact

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transport is the part of RealtimeClient the session layer depends on.
type Transport interface {
	Connect()
	IsConnected() bool
	SendMessage(event string, payload any)
	On(event string, l Listener) Subscription
	Off(sub Subscription)
	Acquire()
	Release()
}

// Source is the authoritative REST state the reconciler re-fetches.
type Source interface {
	UnreadCounts(ctx context.Context) (UnreadCounts, error)
	NotificationsPage(ctx context.Context, opts *NotificationListOptions) (*NotificationPage, error)
	ConversationPage(ctx context.Context, opts *PageOptions) (*MessagePage, error)
	MarkMessageRead(ctx context.Context, messageID string) error
	MarkNotificationRead(ctx context.Context, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// RESTSource adapts a Client to Source. A non-empty studentID selects the
// admin view of that student's conversation.
func RESTSource(client *Client, studentID string) Source {
	return &restSource{client: client, studentID: studentID}
}

type restSource struct {
	client    *Client
	studentID string
}

func (s *restSource) UnreadCounts(ctx context.Context) (UnreadCounts, error) {
	msgs, err := s.client.Messages.UnreadCount(ctx)
	if err != nil {
		return UnreadCounts{}, err
	}
	notifs, err := s.client.Notifications.UnreadCount(ctx)
	if err != nil {
		return UnreadCounts{}, err
	}
	return UnreadCounts{Messages: msgs, Notifications: notifs}, nil
}

func (s *restSource) NotificationsPage(ctx context.Context, opts *NotificationListOptions) (*NotificationPage, error) {
	return s.client.Notifications.List(ctx, opts)
}

func (s *restSource) ConversationPage(ctx context.Context, opts *PageOptions) (*MessagePage, error) {
	if s.studentID != "" {
		return s.client.Messages.AdminConversation(ctx, s.studentID, opts)
	}
	return s.client.Messages.Conversation(ctx, opts)
}

func (s *restSource) MarkMessageRead(ctx context.Context, messageID string) error {
	return s.client.Messages.MarkAsRead(ctx, messageID)
}

func (s *restSource) MarkNotificationRead(ctx context.Context, notificationID string) error {
	return s.client.Notifications.MarkAsRead(ctx, notificationID)
}

func (s *restSource) MarkAllNotificationsRead(ctx context.Context) error {
	return s.client.Notifications.MarkAllAsRead(ctx)
}

// ============================================================================
// Reconciler
// ============================================================================

// MessageMode selects how new_message pushes reach the inbox.
type MessageMode int

const (
	// MessagesRefetch re-fetches the conversation on every push.
	MessagesRefetch MessageMode = iota
	// MessagesAppend shows the pushed shadow at once without a re-fetch.
	MessagesAppend
)

type fetchKind int

const (
	fetchUnread fetchKind = iota
	fetchNotifications
	fetchMessages
)

func (k fetchKind) String() string {
	switch k {
	case fetchUnread:
		return "unread"
	case fetchNotifications:
		return "notifications"
	case fetchMessages:
		return "messages"
	}
	return "unknown"
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Mode MessageMode
	// PageSize is the limit used for page-1 re-fetches. Default 20.
	PageSize int
	// Debounce coalesces bursts of re-fetch requests per kind. Zero fetches
	// immediately.
	Debounce     time.Duration
	FetchTimeout time.Duration
	Scheduler    Scheduler
	Logger       *slog.Logger
}

// Reconciler treats push events as invalidation hints: it re-fetches the
// REST source of truth into the inbox and never changes read state from a
// push payload.
type Reconciler struct {
	src   Source
	inbox *Inbox
	opts  ReconcilerOptions
	log   *slog.Logger

	mu        sync.Mutex
	idle      *sync.Cond
	transport Transport
	subs      []Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	timers    map[fetchKind]Timer
	inflight  int
	issued    map[fetchKind]uint64

	// applyMu orders inbox writes; applied holds the newest request per
	// kind whose response reached the inbox.
	applyMu sync.Mutex
	applied map[fetchKind]uint64
}

// NewReconciler creates a detached reconciler.
func NewReconciler(src Source, inbox *Inbox, opts *ReconcilerOptions) *Reconciler {
	o := ReconcilerOptions{}
	if opts != nil {
		o = *opts
	}
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.Scheduler == nil {
		o.Scheduler = SystemScheduler
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if inbox == nil {
		inbox = NewInbox(o.Logger)
	}
	r := &Reconciler{
		src:     src,
		inbox:   inbox,
		opts:    o,
		log:     o.Logger.With("component", "reconciler"),
		timers:  make(map[fetchKind]Timer),
		issued:  make(map[fetchKind]uint64),
		applied: make(map[fetchKind]uint64),
	}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// Inbox returns the store the reconciler writes to.
func (r *Reconciler) Inbox() *Inbox { return r.inbox }

// Attach subscribes to t's events. Attaching again first stops.
func (r *Reconciler) Attach(t Transport) {
	r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	subs := []Subscription{
		t.On(EventConnect, func(Event) {
			r.request(fetchUnread, fetchNotifications, fetchMessages)
		}),
		t.On(EventNewNotification, func(Event) {
			r.request(fetchNotifications, fetchUnread)
		}),
		t.On(EventNewMessage, func(ev Event) {
			r.onNewMessage(ev)
		}),
		t.On(EventMessageRead, func(Event) {
			r.request(fetchUnread, fetchMessages)
		}),
		t.On(EventNotificationRead, func(Event) {
			r.request(fetchUnread, fetchNotifications)
		}),
	}

	r.mu.Lock()
	r.transport = t
	r.subs = subs
	r.ctx = ctx
	r.cancel = cancel
	r.mu.Unlock()
}

// Stop removes the reconciler's listeners, cancels pending debounce
// timers and aborts in-flight fetches. Idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	t := r.transport
	subs := r.subs
	cancel := r.cancel
	r.transport = nil
	r.subs = nil
	r.cancel = nil
	for k, timer := range r.timers {
		timer.Stop()
		delete(r.timers, k)
	}
	r.mu.Unlock()

	if t != nil {
		for _, s := range subs {
			t.Off(s)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until no fetch is in flight. Pushes may keep arriving
// meanwhile; fetches they start are waited for too.
func (r *Reconciler) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.inflight > 0 {
		r.idle.Wait()
	}
}

// Visible handles the page or tab becoming visible again: reconnect if
// needed and always re-fetch unread counts and notifications, covering
// silent drops neither side noticed.
func (r *Reconciler) Visible() {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return
	}
	if !t.IsConnected() {
		t.Connect()
	}
	r.request(fetchUnread, fetchNotifications)
}

// Refresh re-fetches everything.
func (r *Reconciler) Refresh() {
	r.request(fetchUnread, fetchNotifications, fetchMessages)
}

// MarkMessageRead marks a message read through REST, then re-fetches.
func (r *Reconciler) MarkMessageRead(ctx context.Context, messageID string) error {
	if err := r.src.MarkMessageRead(ctx, messageID); err != nil {
		return err
	}
	r.request(fetchUnread, fetchMessages)
	return nil
}

// MarkNotificationRead marks a notification read through REST, then
// re-fetches.
func (r *Reconciler) MarkNotificationRead(ctx context.Context, notificationID string) error {
	if err := r.src.MarkNotificationRead(ctx, notificationID); err != nil {
		return err
	}
	r.request(fetchUnread, fetchNotifications)
	return nil
}

// MarkAllNotificationsRead marks every notification read, then re-fetches.
func (r *Reconciler) MarkAllNotificationsRead(ctx context.Context) error {
	if err := r.src.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	r.request(fetchUnread, fetchNotifications)
	return nil
}

func (r *Reconciler) onNewMessage(ev Event) {
	nm, ok := ev.(NewMessageEvent)
	if !ok {
		return
	}
	switch r.opts.Mode {
	case MessagesAppend:
		r.inbox.AppendSpeculative(nm.Message)
		r.request(fetchUnread)
	default:
		r.request(fetchMessages, fetchUnread)
	}
	if nm.Notification != nil {
		r.request(fetchNotifications)
	}
}

// request schedules re-fetches. It is a no-op while detached.
func (r *Reconciler) request(kinds ...fetchKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil || r.ctx.Err() != nil {
		return
	}
	ctx := r.ctx
	for _, k := range kinds {
		if r.opts.Debounce <= 0 {
			r.launchLocked(ctx, k)
			continue
		}
		if t, ok := r.timers[k]; ok {
			t.Stop()
		}
		kind := k
		var timer Timer
		timer = r.opts.Scheduler.AfterFunc(r.opts.Debounce, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.timers[kind] != timer {
				return
			}
			delete(r.timers, kind)
			if ctx.Err() == nil {
				r.launchLocked(ctx, kind)
			}
		})
		r.timers[k] = timer
	}
}

func (r *Reconciler) launchLocked(ctx context.Context, k fetchKind) {
	r.issued[k]++
	seq := r.issued[k]
	r.inflight++
	go func() {
		defer r.done()
		fctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
		defer cancel()
		if err := r.fetch(fctx, k, seq); err != nil && ctx.Err() == nil {
			r.log.Warn("re-fetch failed", "kind", k.String(), "error", err)
		}
	}()
}

func (r *Reconciler) done() {
	r.mu.Lock()
	r.inflight--
	if r.inflight == 0 {
		r.idle.Broadcast()
	}
	r.mu.Unlock()
}

// fetch reads one kind from the source and applies it unless a response
// to a later request of the same kind has already been applied.
func (r *Reconciler) fetch(ctx context.Context, k fetchKind, seq uint64) error {
	var apply func()
	switch k {
	case fetchUnread:
		c, err := r.src.UnreadCounts(ctx)
		if err != nil {
			return err
		}
		apply = func() { r.inbox.ReplaceUnread(c) }
	case fetchNotifications:
		page, err := r.src.NotificationsPage(ctx, &NotificationListOptions{Page: 1, Limit: r.opts.PageSize})
		if err != nil {
			return err
		}
		apply = func() { r.inbox.ReplaceNotifications(page) }
	case fetchMessages:
		page, err := r.src.ConversationPage(ctx, &PageOptions{Page: 1, Limit: r.opts.PageSize})
		if err != nil {
			return err
		}
		apply = func() { r.inbox.ReplaceMessages(page) }
	default:
		return nil
	}

	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	if seq <= r.applied[k] {
		r.log.Debug("dropping stale re-fetch", "kind", k.String(), "seq", seq)
		return nil
	}
	r.applied[k] = seq
	apply()
	return nil
}

package wordimpact

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// InboxChange names the part of the inbox that changed.
type InboxChange string

const (
	ChangeUnread        InboxChange = "unread"
	ChangeNotifications InboxChange = "notifications"
	ChangeMessages      InboxChange = "messages"
)

// Inbox is a goroutine-safe in-memory view of the user's messaging state.
//
// Authoritative fields are only ever replaced wholesale from REST responses.
// Push events may add speculative message shadows, which disappear once a
// REST page containing the same message ID arrives.
type Inbox struct {
	mu            sync.RWMutex
	unread        UnreadCounts
	notifications []NotificationSummary
	notifPage     Pagination
	messages      []Message
	msgPage       Pagination
	shadows       map[string]Message
	logger        *slog.Logger

	listenersMu sync.RWMutex
	listeners   []func(InboxChange)
}

// NewInbox creates an empty inbox. Panicking change listeners are logged
// to logger.
func NewInbox(logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{shadows: make(map[string]Message), logger: logger}
}

// OnChange registers fn to run after every change. It runs on the goroutine
// that applied the change.
func (in *Inbox) OnChange(fn func(InboxChange)) {
	in.listenersMu.Lock()
	defer in.listenersMu.Unlock()
	in.listeners = append(in.listeners, fn)
}

func (in *Inbox) changed(c InboxChange) {
	in.listenersMu.RLock()
	fns := in.listeners
	in.listenersMu.RUnlock()
	for _, fn := range fns {
		in.notify(fn, c)
	}
}

func (in *Inbox) notify(fn func(InboxChange), c InboxChange) {
	defer func() {
		if p := recover(); p != nil {
			in.logger.Error("inbox listener panicked", "change", string(c), "panic", fmt.Sprint(p))
		}
	}()
	fn(c)
}

// ── Unread counts ────────────────────────────────────────

func (in *Inbox) Unread() UnreadCounts {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.unread
}

func (in *Inbox) ReplaceUnread(c UnreadCounts) {
	in.mu.Lock()
	in.unread = c
	in.mu.Unlock()
	in.changed(ChangeUnread)
}

// ── Notifications ────────────────────────────────────────

func (in *Inbox) Notifications() ([]NotificationSummary, Pagination) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]NotificationSummary, len(in.notifications))
	copy(out, in.notifications)
	return out, in.notifPage
}

func (in *Inbox) ReplaceNotifications(page *NotificationPage) {
	in.mu.Lock()
	in.notifications = append([]NotificationSummary(nil), page.Notifications...)
	in.notifPage = page.Pagination
	in.mu.Unlock()
	in.changed(ChangeNotifications)
}

// ── Messages ─────────────────────────────────────────────

// Messages returns the authoritative page merged with outstanding shadows,
// oldest first.
func (in *Inbox) Messages() []Message {
	in.mu.RLock()
	defer in.mu.RUnlock()

	out := make([]Message, 0, len(in.messages)+len(in.shadows))
	out = append(out, in.messages...)
	for _, m := range in.shadows {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (in *Inbox) MessagePagination() Pagination {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.msgPage
}

// ReplaceMessages installs a REST page and drops the shadows it confirms.
func (in *Inbox) ReplaceMessages(page *MessagePage) {
	in.mu.Lock()
	in.messages = append([]Message(nil), page.Messages...)
	in.msgPage = page.Pagination
	for _, m := range page.Messages {
		delete(in.shadows, m.ID)
	}
	in.mu.Unlock()
	in.changed(ChangeMessages)
}

// AppendSpeculative records a push-delivered message for immediate display.
// It is ignored when the message is already authoritative.
func (in *Inbox) AppendSpeculative(pm PushedMessage) bool {
	in.mu.Lock()
	for _, m := range in.messages {
		if m.ID == pm.ID {
			in.mu.Unlock()
			return false
		}
	}
	created := pm.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	in.shadows[pm.ID] = Message{
		ID:       pm.ID,
		Content:  pm.Content,
		SenderID: pm.Sender.ID,
		Sender: &User{
			ID:       pm.Sender.ID,
			Email:    pm.Sender.Email,
			Role:     pm.Sender.Role,
			FullName: pm.Sender.FullName,
		},
		RecipientID: pm.RecipientID,
		CreatedAt:   created,
		UpdatedAt:   pm.UpdatedAt,
		Speculative: true,
	}
	in.mu.Unlock()
	in.changed(ChangeMessages)
	return true
}

// SpeculativeCount returns the number of unconfirmed shadows.
func (in *Inbox) SpeculativeCount() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.shadows)
}

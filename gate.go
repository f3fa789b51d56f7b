package wordimpact

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ============================================================================
// Authentication
// ============================================================================

// AuthChecker resolves whether the current user is authenticated.
type AuthChecker interface {
	Authenticated(ctx context.Context) (bool, error)
}

// AuthFunc adapts a function to AuthChecker.
type AuthFunc func(ctx context.Context) (bool, error)

func (f AuthFunc) Authenticated(ctx context.Context) (bool, error) { return f(ctx) }

// TokenAuth is authenticated when token is non-empty.
func TokenAuth(token string) AuthChecker {
	return AuthFunc(func(context.Context) (bool, error) { return token != "", nil })
}

// SessionAuth asks the API who the current user is. A 401 or 403 response
// means unauthenticated; other failures are returned as errors.
func SessionAuth(client *Client) AuthChecker {
	return AuthFunc(func(ctx context.Context) (bool, error) {
		_, err := client.Auth.Me(ctx)
		if err == nil {
			return true, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) &&
			(apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return false, nil
		}
		return false, err
	})
}

// ============================================================================
// Session Gate
// ============================================================================

// GateOptions configures a SessionGate.
type GateOptions struct {
	// Reconciler, when set, is attached while the gate is active.
	Reconciler *Reconciler

	ProbeInterval time.Duration
	DisableProber bool

	Scheduler Scheduler
	Logger    *slog.Logger
}

// SessionGate keeps the transport live only while the user is
// authenticated and the gate is mounted.
//
// An active gate holds one reference on the transport (Acquire), the
// reconciler's listeners and the liveness prober. Deactivating releases all
// three. Leaf consumers that only need events should use Transport.On and
// Off directly and never disconnect.
type SessionGate struct {
	t      Transport
	auth   AuthChecker
	rec    *Reconciler
	prober *LivenessProber
	logger *slog.Logger

	mu      sync.Mutex
	mounted bool
	authed  bool
	active  bool
	// syncing is set while one goroutine applies transitions; dirty asks it
	// to re-evaluate before returning.
	syncing bool
	dirty   bool
}

// NewSessionGate creates an unmounted gate over t.
func NewSessionGate(t Transport, auth AuthChecker, opts *GateOptions) *SessionGate {
	o := GateOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if auth == nil {
		auth = TokenAuth("")
	}
	g := &SessionGate{
		t:      t,
		auth:   auth,
		rec:    o.Reconciler,
		logger: o.Logger.With("component", "gate"),
	}
	if !o.DisableProber {
		g.prober = NewLivenessProber(t, &ProberOptions{
			Interval:      o.ProbeInterval,
			Authenticated: g.Authenticated,
			Scheduler:     o.Scheduler,
			Logger:        o.Logger,
		})
	}
	return g
}

// Mount resolves authentication and activates the gate when it is true.
// An auth error leaves the gate mounted but inactive and is returned.
func (g *SessionGate) Mount(ctx context.Context) error {
	g.mu.Lock()
	if g.mounted {
		g.mu.Unlock()
		return nil
	}
	g.mounted = true
	g.mu.Unlock()

	ok, err := g.auth.Authenticated(ctx)
	if err != nil {
		g.logger.Warn("auth check failed, staying offline", "error", err)
		ok = false
	}
	g.SetAuthenticated(ok)
	return err
}

// SetAuthenticated records an auth change. Becoming authenticated while
// mounted connects exactly once; losing it tears the session down.
func (g *SessionGate) SetAuthenticated(ok bool) {
	g.mu.Lock()
	g.authed = ok
	g.mu.Unlock()
	g.sync()
}

// SetVisible forwards a regained visibility to the reconciler. Ignored
// while inactive.
func (g *SessionGate) SetVisible(visible bool) {
	if !visible {
		return
	}
	g.mu.Lock()
	active := g.active
	g.mu.Unlock()
	if !active {
		return
	}
	if g.rec != nil {
		g.rec.Visible()
		return
	}
	if !g.t.IsConnected() {
		g.t.Connect()
	}
}

// Unmount deactivates the gate. Idempotent.
func (g *SessionGate) Unmount() {
	g.mu.Lock()
	g.mounted = false
	g.mu.Unlock()
	g.sync()
}

// Active reports whether the gate currently holds the transport.
func (g *SessionGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Authenticated reports the last known auth state.
func (g *SessionGate) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authed
}

// sync applies the wanted activation state. Only one goroutine applies
// transitions at a time, without mu held. A call arriving meanwhile, for
// instance from a transport listener fired by Acquire, marks the gate dirty
// and returns; the running goroutine picks the change up.
func (g *SessionGate) sync() {
	g.mu.Lock()
	g.dirty = true
	if g.syncing {
		g.mu.Unlock()
		return
	}
	g.syncing = true
	for g.dirty {
		g.dirty = false
		want := g.mounted && g.authed
		was := g.active
		g.active = want
		g.mu.Unlock()

		g.apply(want, was)

		g.mu.Lock()
	}
	g.syncing = false
	g.mu.Unlock()
}

func (g *SessionGate) apply(want, was bool) {
	switch {
	case want && !was:
		g.logger.Info("session active, connecting realtime")
		if g.rec != nil {
			g.rec.Attach(g.t)
		}
		g.t.Acquire()
		if g.prober != nil {
			g.prober.Start()
		}
	case !want && was:
		g.logger.Info("session inactive, releasing realtime")
		if g.prober != nil {
			g.prober.Stop()
		}
		if g.rec != nil {
			g.rec.Stop()
		}
		g.t.Release()
	}
}

package wordimpact

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeInterval is the liveness probe period.
const DefaultProbeInterval = 30 * time.Second

// ProberOptions configures a LivenessProber.
type ProberOptions struct {
	Interval time.Duration
	// Authenticated reports whether reconnecting is still allowed. Nil means
	// always.
	Authenticated func() bool
	Scheduler     Scheduler
	Logger        *slog.Logger
}

// LivenessProber sends an application-level ping on a fixed interval while
// connected, and reconnects while disconnected. It catches half-open
// connections the transport heartbeat does not see.
type LivenessProber struct {
	t      Transport
	opts   ProberOptions
	logger *slog.Logger

	mu      sync.Mutex
	timer   Timer
	running bool
	gen     uint64
}

func NewLivenessProber(t Transport, opts *ProberOptions) *LivenessProber {
	o := ProberOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultProbeInterval
	}
	if o.Authenticated == nil {
		o.Authenticated = func() bool { return true }
	}
	if o.Scheduler == nil {
		o.Scheduler = SystemScheduler
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &LivenessProber{t: t, opts: o, logger: o.Logger.With("component", "prober")}
}

// Start arms the interval. No-op if already running.
func (p *LivenessProber) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.gen++
	p.armLocked(p.gen)
}

// Stop cancels the interval. Idempotent.
func (p *LivenessProber) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *LivenessProber) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *LivenessProber) armLocked(gen uint64) {
	p.timer = p.opts.Scheduler.AfterFunc(p.opts.Interval, func() { p.tick(gen) })
}

func (p *LivenessProber) tick(gen uint64) {
	p.mu.Lock()
	if !p.running || p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.mu.Unlock()

	switch {
	case p.t.IsConnected():
		p.t.SendMessage(EventPing, struct{}{})
	case p.opts.Authenticated():
		p.logger.Debug("liveness probe found connection down, reconnecting")
		p.t.Connect()
	}

	p.mu.Lock()
	if p.running && p.gen == gen {
		p.armLocked(gen)
	}
	p.mu.Unlock()
}

package signals

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultProbeInterval = 15 * time.Second
	maxBackoff           = 30 * time.Second
)

// Probe is a Connectivity that periodically calls a health check. While the
// check keeps failing the delay between attempts doubles, up to maxBackoff.
type Probe struct {
	check    func(ctx context.Context) error
	interval time.Duration
	logger   *slog.Logger
	onChange func(online bool)

	flag *flag

	mu       sync.Mutex
	failures int
}

// ProbeOption customises a Probe.
type ProbeOption func(*Probe)

// WithInterval sets the delay between successful checks.
func WithInterval(d time.Duration) ProbeOption {
	return func(p *Probe) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the probe logger.
func WithLogger(l *slog.Logger) ProbeOption {
	return func(p *Probe) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithStatusHook runs fn whenever the probe changes state, before subscribers.
func WithStatusHook(fn func(online bool)) ProbeOption {
	return func(p *Probe) { p.onChange = fn }
}

// NewProbe builds a probe around check. It reports online until the first
// check says otherwise.
func NewProbe(check func(ctx context.Context) error, opts ...ProbeOption) *Probe {
	p := &Probe{
		check:    check,
		interval: defaultProbeInterval,
		logger:   slog.Default(),
		flag:     newFlag(true),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "probe")
	return p
}

// Online implements Connectivity.
func (p *Probe) Online() bool { return p.flag.get() }

// Subscribe implements Connectivity.
func (p *Probe) Subscribe(fn func(bool)) func() { return p.flag.subscribe(fn) }

// Check runs one health check, records the outcome and returns how long to wait
// before the next one.
func (p *Probe) Check(ctx context.Context) time.Duration {
	err := p.check(ctx)

	p.mu.Lock()
	if err != nil {
		p.failures++
	} else {
		p.failures = 0
	}
	failures := p.failures
	p.mu.Unlock()

	online := err == nil
	if p.flag.get() != online {
		if online {
			p.logger.Info("api reachable")
		} else {
			p.logger.Warn("api unreachable", "error", err)
		}
		if p.onChange != nil {
			p.onChange(online)
		}
		p.flag.set(online)
	}
	if online {
		return p.interval
	}
	return calculateBackoff(failures-1, p.interval)
}

// Run checks until ctx is done. It blocks.
func (p *Probe) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		timer.Reset(p.Check(ctx))
	}
}

// calculateBackoff returns the wait after consecutive failures beyond the
// first, doubling base each time and capping at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	backoff := base
	for i := 0; i < failures; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

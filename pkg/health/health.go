// Package health implements Kubernetes-style liveness and readiness probes.
//
// Every registered check runs on its own background ticker. State changes are
// damped the way kubelet probes are: a probe flips to unhealthy only after a
// run of consecutive failures and back to healthy after a run of consecutive
// successes, so one slow round trip does not pull the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes a single dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailAfter = 3
	defaultOKAfter   = 1
)

// Option tunes a probe at registration time.
type Option func(*probe)

// WithFailAfter overrides how many consecutive failures flip a probe to
// unhealthy.
func WithFailAfter(n int) Option {
	return func(p *probe) { p.failAfter = n }
}

// WithOKAfter overrides how many consecutive successes flip a probe back to
// healthy.
func WithOKAfter(n int) Option {
	return func(p *probe) { p.okAfter = n }
}

// probe is one registered check plus its damped state.
//
// observe is only ever called from the probe's watch goroutine, so the
// consecutive counters need no locking. healthy and lastErr are shared with
// the HTTP handlers and go through atomics.
type probe struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	failAfter int
	okAfter   int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func newProbe(name string, timeout time.Duration, fn CheckFunc, opts []Option) *probe {
	p := &probe{
		name:      name,
		timeout:   timeout,
		fn:        fn,
		failAfter: defaultFailAfter,
		okAfter:   defaultOKAfter,
	}
	for _, opt := range opts {
		opt(p)
	}
	// Probes start healthy so the service is not flagged before the first tick.
	p.healthy.Store(true)
	return p
}

func (p *probe) observe(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(cctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.failAfter {
			p.healthy.Store(false)
		}
		return
	}

	p.fails = 0
	p.oks++
	if p.oks >= p.okAfter {
		p.healthy.Store(true)
	}
}

// failure reports the probe's current failure reason. The second return is
// false while the probe is healthy.
func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error(), true
	}
	return "probe is unhealthy", true
}

// Health tracks liveness and readiness probes for a service.
//
// A new Health reports not ready until SetReady(true), which lets the server
// finish wiring its dependencies before it is put into rotation.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	live      []*probe
	readiness []*probe
	stop      context.CancelFunc
}

func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe behind the liveness endpoint. Liveness
// failures mean the process itself is wedged and should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newProbe(name, timeout, fn, opts))
}

// AddReadinessCheck registers a probe behind the readiness endpoint.
// Readiness failures mean a dependency is unavailable and traffic should be
// routed elsewhere until it recovers.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, fn, opts))
}

// Start launches one watcher goroutine per registered probe. Probes observe
// immediately and then on every interval tick until Stop or context
// cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.stop = cancel
	probes := make([]*probe, 0, len(h.live)+len(h.readiness))
	probes = append(probes, h.live...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go watch(ctx, p, interval)
	}
}

func watch(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.observe(ctx)
		}
	}
}

// Stop cancels the watcher goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
}

// SetReady flips the manual readiness gate. Serving code calls
// SetReady(false) at the start of graceful shutdown so load balancers drain
// the instance before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}

	h.mu.RLock()
	probes := h.readiness
	h.mu.RUnlock()

	for _, p := range probes {
		if _, failed := p.failure(); failed {
			return false
		}
	}
	return true
}

// report is the wire shape served by both endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves the liveness probe: 200 while every liveness check
// passes, 503 with per-check reasons otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*probe(nil), h.live...)
	h.mu.RUnlock()

	serveReport(w, failures(probes))
}

// ReadyEndpoint serves the readiness probe: 200 only when the manual gate is
// open and every readiness check passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*probe(nil), h.readiness...)
	h.mu.RUnlock()

	failed := failures(probes)
	if !h.ready.Load() {
		failed["service"] = "not marked ready"
	}
	serveReport(w, failed)
}

func failures(probes []*probe) map[string]string {
	out := make(map[string]string)
	for _, p := range probes {
		if reason, failed := p.failure(); failed {
			out[p.name] = reason
		}
	}
	return out
}

func serveReport(w http.ResponseWriter, failed map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	rep := report{Status: "ok"}
	code := http.StatusOK
	if len(failed) > 0 {
		rep = report{Status: "unhealthy", Checks: failed}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)

	// The status line is already out; nothing to do if the client went away.
	_ = json.NewEncoder(w).Encode(rep)
}

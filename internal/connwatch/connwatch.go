// Package connwatch tracks the reachability of the services the chat
// pipeline depends on: the model backend, the embedding server and the
// escalation broker.
//
// Each watched target is probed with exponential backoff until it first
// answers, then polled on a fixed interval. Required targets decide
// whether the process is healthy; optional ones only degrade it.
package connwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Overall health values reported by [Manager.Summary].
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	Initial    time.Duration // first retry delay (default 2s)
	Max        time.Duration // retry delay ceiling (default 60s)
	Multiplier float64       // default 2
	Attempts   int           // startup attempts before falling back to polling (default 10)
	Poll       time.Duration // steady-state interval (default 60s)
	Timeout    time.Duration // per-probe limit (default 10s)
}

// DefaultBackoff returns 2s, 4s, 8s ... capped at 60s, ten startup
// attempts and one-minute polling.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Attempts:   10,
		Poll:       60 * time.Second,
		Timeout:    10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier <= 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Target is one watched service.
type Target struct {
	Name     string
	Probe    ProbeFunc
	Required bool
	Backoff  Backoff

	// OnChange runs in its own goroutine whenever readiness flips.
	OnChange func(ready bool, err error)
}

// Status is the health of one target, shaped for the health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Required  bool      `json:"required"`
	Failures  int       `json:"consecutive_failures"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

type watcher struct {
	target Target
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	ready     bool
	failures  int
	lastErr   error
	lastCheck time.Time
}

func (w *watcher) status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		Name:      w.target.Name,
		Ready:     w.ready,
		Required:  w.target.Required,
		Failures:  w.failures,
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.done)

	b := w.target.Backoff
	delay := b.Initial
	startup := true
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		next := b.Poll
		switch {
		case err == nil:
			startup = false
		case startup && w.status().Failures >= b.Attempts:
			startup = false
			w.logger.Info("startup probes exhausted, polling in background",
				"attempts", b.Attempts, "error", err)
		case startup:
			next = delay
			delay = min(time.Duration(float64(delay)*b.Multiplier), b.Max)
			w.logger.Debug("probe failed, retrying", "next_delay", next, "error", err)
		}

		if !sleepCtx(ctx, next) {
			return
		}
	}
}

// check probes once and records the outcome, firing OnChange on a
// readiness transition.
func (w *watcher) check(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, w.target.Backoff.Timeout)
	defer cancel()
	err := w.target.Probe(pctx)

	w.mu.Lock()
	was := w.ready
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	w.mu.Unlock()

	if was == (err == nil) {
		return err
	}
	if err == nil {
		w.logger.Info("service ready")
	} else {
		w.logger.Warn("service unreachable", "error", err)
	}
	if w.target.OnChange != nil {
		go w.target.OnChange(err == nil, err)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*watcher),
		logger:   logger.With("component", "connwatch"),
	}
}

// Watch starts probing t in the background until ctx is cancelled or
// Stop is called.
func (m *Manager) Watch(ctx context.Context, t Target) error {
	if t.Name == "" {
		return errors.New("connwatch: target name is required")
	}
	if t.Probe == nil {
		return fmt.Errorf("connwatch: %s: probe is required", t.Name)
	}
	t.Backoff = t.Backoff.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[t.Name]; ok {
		return fmt.Errorf("connwatch: %s already watched", t.Name)
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		target: t,
		logger: m.logger.With("service", t.Name),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.watchers[t.Name] = w
	go w.run(wctx)
	return nil
}

// Status returns every target's health, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether the named target answered its last probe.
func (m *Manager) Ready(name string) bool {
	m.mu.RLock()
	w, ok := m.watchers[name]
	m.mu.RUnlock()
	return ok && w.status().Ready
}

// Summary folds target health into [Healthy], [Degraded] or [Unhealthy].
func (m *Manager) Summary() string {
	overall := Healthy
	for _, s := range m.Status() {
		if s.Ready {
			continue
		}
		if s.Required {
			return Unhealthy
		}
		overall = Degraded
	}
	return overall
}

// Stop cancels all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	ws := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.RUnlock()

	for _, w := range ws {
		w.cancel()
		<-w.done
	}
}

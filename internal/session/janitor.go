package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCleanupInterval is how often the janitor sweeps expired sessions.
const DefaultCleanupInterval = 30 * time.Minute

// Janitor periodically deactivates expired sessions.
type Janitor struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a janitor that sweeps every interval. A
// non-positive interval uses [DefaultCleanupInterval].
func NewJanitor(m *Manager, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{manager: m, interval: interval, logger: logger}
}

// Start runs the sweep loop until ctx is cancelled. It blocks.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("session janitor started", "interval", j.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	if _, err := j.manager.CleanupExpired(ctx); err != nil {
		j.logger.Warn("session cleanup failed", "error", err)
	}
}

package escalation

import (
	"context"
	"errors"
	"log/slog"
)

// LogNotifier writes tickets to the log. It stands in for a real
// channel when none is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, t Ticket) error {
	n.logger.Info("[MOCKED] escalation notice",
		"ticket_id", t.ID,
		"notice", FormatNotice(t),
	)
	return nil
}

// Mocked reports that tickets go nowhere but the log.
func (n *LogNotifier) Mocked() bool { return true }

// MultiNotifier fans a ticket out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier combines notifiers. Nil entries are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of combined notifiers.
func (m *MultiNotifier) Len() int { return len(m.notifiers) }

// Notify delivers to every notifier and joins their errors.
func (m *MultiNotifier) Notify(ctx context.Context, t Ticket) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mocked reports whether no combined notifier reaches a real channel.
func (m *MultiNotifier) Mocked() bool {
	for _, n := range m.notifiers {
		if !isMocked(n) {
			return false
		}
	}
	return true
}

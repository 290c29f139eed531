// Package recovery maps raised error conditions to categorized, bounded
// retry strategies and tracks a rolling error history used for server
// degradation reporting. It governs cross-cutting transient conditions
// only; rejected invalid operations are never retried.
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Category names a class of recoverable failure.
type Category string

const (
	CategoryTransport     Category = "transport_error"
	CategoryOperationSync Category = "operation_sync_error"
	CategoryAnalysis      Category = "analysis_error"
	CategorySession       Category = "session_error"
)

const (
	// historyLimit bounds the rolling error history.
	historyLimit = 100

	// degradedWindow and degradedThreshold define when the system is
	// considered degraded: more than degradedThreshold errors recorded
	// in the trailing degradedWindow.
	degradedWindow    = 5 * time.Minute
	degradedThreshold = 10
)

// Strategy describes how a category of error is retried and recovered.
type Strategy struct {
	// MaxRetries bounds the number of attempts after the first failure.
	MaxRetries int

	// Schedule is an optional fixed per-attempt backoff. When empty,
	// an exponential backoff is used instead.
	Schedule []time.Duration

	// ShouldRetry decides whether the given failure on the given
	// attempt (0-based) warrants another try.
	ShouldRetry func(err error, attempt int) bool

	// Recover runs the category's remediation between attempts, e.g.
	// reconnect, request full resynchronization, fall back to a
	// simpler analysis, or rejoin the session.
	Recover func(ctx context.Context, attempt int) error

	// Suggestion is the remediation hint reported for this category.
	Suggestion string
}

// Event is one recorded failure.
type Event struct {
	Category Category  `json:"category"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// Manager holds the category registry and the rolling error history.
type Manager struct {
	mu         sync.Mutex
	strategies map[Category]Strategy
	history    []Event
	log        zerolog.Logger
	now        func() time.Time
}

// NewManager builds a manager with the default per-category strategies.
func NewManager(logger zerolog.Logger) *Manager {
	alwaysRetry := func(error, int) bool { return true }
	noRecover := func(context.Context, int) error { return nil }

	return &Manager{
		strategies: map[Category]Strategy{
			CategoryTransport: {
				MaxRetries:  5,
				Schedule:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second},
				ShouldRetry: alwaysRetry,
				Recover:     noRecover,
				Suggestion:  "reconnect and resume from the last acknowledged revision",
			},
			CategoryOperationSync: {
				MaxRetries:  3,
				ShouldRetry: alwaysRetry,
				Recover:     noRecover,
				Suggestion:  "request a full session resynchronization",
			},
			CategoryAnalysis: {
				MaxRetries:  2,
				ShouldRetry: alwaysRetry,
				Recover:     noRecover,
				Suggestion:  "retry the analysis with fewer layers enabled",
			},
			CategorySession: {
				MaxRetries:  1,
				ShouldRetry: alwaysRetry,
				Recover:     noRecover,
				Suggestion:  "rejoin the session",
			},
		},
		log: logger.With().Str("component", "recovery").Logger(),
		now: time.Now,
	}
}

// Register replaces the strategy for a category, letting callers inject
// real recovery actions (reconnect, resync) for their environment.
func (m *Manager) Register(cat Category, s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[cat] = s
}

// Record appends a failure to the rolling history.
func (m *Manager) Record(cat Category, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, Event{Category: cat, Error: err.Error(), At: m.now()})
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	m.log.Warn().Str("category", string(cat)).Err(err).Msg("error recorded")
}

// RecentCount returns the number of errors recorded in the trailing
// window.
func (m *Manager) RecentCount(window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window)
	n := 0
	for _, e := range m.history {
		if e.At.After(cutoff) {
			n++
		}
	}
	return n
}

// Degraded reports whether the error rate crossed the degradation
// threshold.
func (m *Manager) Degraded() bool {
	return m.RecentCount(degradedWindow) > degradedThreshold
}

// Suggestions returns remediation hints for the categories seen in the
// recent history, keyed by category.
func (m *Manager) Suggestions() map[Category]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-degradedWindow)
	out := make(map[Category]string)
	for _, e := range m.history {
		if !e.At.After(cutoff) {
			continue
		}
		if s, ok := m.strategies[e.Category]; ok {
			out[e.Category] = s.Suggestion
		}
	}
	return out
}

// Retry runs op under the category's retry policy: each failure is
// recorded, the strategy's Recover action runs between attempts, and the
// next attempt waits out the backoff schedule. Returns the last error
// once retries are exhausted or ShouldRetry declines.
func (m *Manager) Retry(ctx context.Context, cat Category, op func() error) error {
	m.mu.Lock()
	strategy, ok := m.strategies[cat]
	m.mu.Unlock()
	if !ok {
		return xerrors.Errorf("no strategy registered for category %q", cat)
	}

	var wait backoff.BackOff
	if len(strategy.Schedule) == 0 {
		wait = backoff.NewExponentialBackOff()
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		m.Record(cat, err)

		if attempt >= strategy.MaxRetries {
			return xerrors.Errorf("%s: retries exhausted after %d attempts: %w", cat, attempt+1, err)
		}
		if strategy.ShouldRetry != nil && !strategy.ShouldRetry(err, attempt) {
			return err
		}
		if strategy.Recover != nil {
			if rerr := strategy.Recover(ctx, attempt); rerr != nil {
				return xerrors.Errorf("%s: recover action failed: %w", cat, rerr)
			}
		}

		var delay time.Duration
		if len(strategy.Schedule) > 0 {
			idx := min(attempt, len(strategy.Schedule)-1)
			delay = strategy.Schedule[idx]
		} else {
			delay = wait.NextBackOff()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

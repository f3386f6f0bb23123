// Package dispatch converts scheduled modes into vendor commands when the
// wall clock enters a new block: execute, verify on the next poll,
// re-attempt on failure.
package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kestrelhome/battplan/inverter"
	"github.com/kestrelhome/battplan/schedule"
	"github.com/kestrelhome/battplan/strategy"
)

// Status is the dispatcher's observability snapshot for one inverter.
type Status struct {
	InverterID          string
	LastCommandedMode   strategy.Mode
	LastCommandAt       time.Time
	ModeSynced          bool
	LastHealthError     error
	ConsecutiveFailures int
}

// Dispatcher debounces SetMode commands, retries transient vendor errors
// with exponential backoff, and periodically polls each inverter to check
// planned-vs-actual mode sync.
type Dispatcher struct {
	Source inverter.DataSource
	Logger *log.Logger

	MinModeChangeInterval time.Duration
	BackoffBase           time.Duration
	BackoffCap            time.Duration
	PollInterval          time.Duration

	mu       sync.Mutex
	statuses map[string]*Status
}

// New builds a Dispatcher with conservative defaults (5-minute poll,
// backoff bounded only by BackoffCap).
func New(source inverter.DataSource, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		Source:                source,
		Logger:                logger,
		MinModeChangeInterval: 2 * time.Minute,
		BackoffBase:           5 * time.Second,
		BackoffCap:            5 * time.Minute,
		PollInterval:          5 * time.Minute,
		statuses:              make(map[string]*Status),
	}
}

// StatusFor returns a copy of the dispatcher's status for inverterID.
func (d *Dispatcher) StatusFor(inverterID string) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.statuses[inverterID]; ok {
		return *s
	}
	return Status{InverterID: inverterID}
}

func (d *Dispatcher) statusFor(inverterID string) *Status {
	s, ok := d.statuses[inverterID]
	if !ok {
		s = &Status{InverterID: inverterID}
		d.statuses[inverterID] = s
	}
	return s
}

// Dispatch issues SetMode(entry.Mode) to inverterID if it differs from the
// last-acknowledged mode and the min-mode-change interval has elapsed,
// retrying vendor errors with exponential backoff up to BackoffCap. A
// persistent failure is surfaced via StatusFor, never by panicking or
// crashing the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, inverterID string, entry schedule.ScheduledMode, now time.Time) error {
	d.mu.Lock()
	status := d.statusFor(inverterID)
	sameMode := status.LastCommandedMode == entry.Mode
	tooSoon := !status.LastCommandAt.IsZero() && now.Sub(status.LastCommandAt) < d.MinModeChangeInterval
	d.mu.Unlock()

	if sameMode || tooSoon {
		return nil
	}

	mode := entry.Mode
	err := d.sendWithBackoff(ctx, inverterID, inverter.Command{SetMode: &mode})

	d.mu.Lock()
	defer d.mu.Unlock()
	status = d.statusFor(inverterID)
	if err != nil {
		status.ConsecutiveFailures++
		status.LastHealthError = err
		d.Logger.Printf("dispatch: %s: persistent failure issuing SetMode(%s): %v", inverterID, mode, err)
		return err
	}

	status.LastCommandedMode = mode
	status.LastCommandAt = now
	status.ConsecutiveFailures = 0
	status.LastHealthError = nil
	return nil
}

// sendWithBackoff retries WriteCommand with exponential backoff capped at
// BackoffCap.
func (d *Dispatcher) sendWithBackoff(ctx context.Context, inverterID string, cmd inverter.Command) error {
	delay := d.BackoffBase
	if delay <= 0 {
		delay = 5 * time.Second
	}
	cap := d.BackoffCap
	if cap <= 0 {
		cap = 5 * time.Minute
	}

	var lastErr error
	for attempt := 0; attempt < 6; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > cap {
				delay = cap
			}
		}
		if err := d.Source.WriteCommand(ctx, inverterID, cmd); err != nil {
			lastErr = err
			d.Logger.Printf("dispatch: %s: attempt %d failed: %v", inverterID, attempt+1, err)
			continue
		}
		return nil
	}
	return lastErr
}

// PollAndSync reads back actual state for inverterID and updates
// ModeSynced. Callers schedule
// calls to this themselves (the planner's I/O worker pool).
func (d *Dispatcher) PollAndSync(ctx context.Context, inverterID string) error {
	state, err := d.Source.ReadState(ctx, inverterID)
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.statusFor(inverterID)
	if err != nil {
		status.LastHealthError = err
		return err
	}
	status.ModeSynced = status.LastCommandedMode == state.ActualMode
	return nil
}

package watchers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// IntervalWatcher fires every interval_seconds, starting one interval after
// it's started — it never fires immediately on start. Grounded on
// original_source's triggers/watchers/temporal.py IntervalWatcher.
type IntervalWatcher struct {
	base
	interval time.Duration
}

func NewIntervalWatcher(triggerID string, intervalSeconds float64, fire FireFunc) (*IntervalWatcher, error) {
	if intervalSeconds <= 0 {
		return nil, fmt.Errorf("interval_seconds must be positive, got %v", intervalSeconds)
	}
	return &IntervalWatcher{
		base:     newBase(triggerID, fire),
		interval: time.Duration(intervalSeconds * float64(time.Second)),
	}, nil
}

func (w *IntervalWatcher) Start() {
	w.start(func(ctx context.Context) {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.fireEvent("temporal.interval", map[string]any{
					"interval_seconds": w.interval.Seconds(),
					"fired_at":         time.Now().UTC().Format(time.RFC3339Nano),
				})
			}
		}
	})
}

// OnceWatcher fires exactly once at run_at (a Unix timestamp), immediately
// if run_at is already in the past, then exits without re-arming.
type OnceWatcher struct {
	base
	runAt time.Time
}

func NewOnceWatcher(triggerID string, runAtUnix float64, fire FireFunc) *OnceWatcher {
	return &OnceWatcher{
		base:  newBase(triggerID, fire),
		runAt: time.Unix(int64(runAtUnix), 0).UTC(),
	}
}

func (w *OnceWatcher) Start() {
	w.start(func(ctx context.Context) {
		delay := time.Until(w.runAt)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.fireEvent("temporal.once", map[string]any{
				"run_at":   w.runAt.Unix(),
				"fired_at": time.Now().UTC().Format(time.RFC3339Nano),
			})
		}
	})
}

// CronWatcher fires on a cron schedule, recomputing its next fire time
// from "now" after every fire — mirroring the original's re-creation of a
// croniter instance each time, rather than precomputing a fixed sequence.
// Uses robfig/cron/v3's schedule parser in place of croniter.
type CronWatcher struct {
	base
	schedule string
	parsed   cron.Schedule
}

func NewCronWatcher(triggerID, schedule string, fire FireFunc) (*CronWatcher, error) {
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return &CronWatcher{base: newBase(triggerID, fire), schedule: schedule, parsed: parsed}, nil
}

func (w *CronWatcher) Start() {
	w.start(func(ctx context.Context) {
		for {
			next := w.parsed.Next(time.Now().UTC())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				w.fireEvent("temporal.cron", map[string]any{
					"schedule":     w.schedule,
					"scheduled_at": next.Format(time.RFC3339Nano),
					"fired_at":     time.Now().UTC().Format(time.RFC3339Nano),
				})
			}
		}
	})
}

package watchers

import (
	"context"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// ProcessWatcher fires when a named process transitions between present
// and absent, polling the process table — gopsutil is already an indirect
// dependency of the teacher, so this promotes it to direct rather than
// hand-rolling /proc parsing.
type ProcessWatcher struct {
	base
	processName  string
	pollInterval time.Duration
	wasPresent   bool
}

func NewProcessWatcher(triggerID, processName string, fire FireFunc) *ProcessWatcher {
	return &ProcessWatcher{base: newBase(triggerID, fire), processName: processName, pollInterval: 5 * time.Second}
}

func (w *ProcessWatcher) Start() {
	w.start(func(ctx context.Context) {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				present, err := w.processPresent(ctx)
				if err != nil {
					w.setErr(err)
					return
				}
				if present == w.wasPresent {
					continue
				}
				w.wasPresent = present
				eventType := "process.stopped"
				if present {
					eventType = "process.started"
				}
				w.fireEvent(eventType, map[string]any{
					"process_name": w.processName,
					"fired_at":     time.Now().UTC().Format(time.RFC3339Nano),
				})
			}
		}
	})
}

func (w *ProcessWatcher) processPresent(ctx context.Context) (bool, error) {
	procs, err := gopsprocess.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if name == w.processName {
			return true, nil
		}
	}
	return false, nil
}

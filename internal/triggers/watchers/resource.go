package watchers

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// ResourceKind is the metric a ResourceWatcher samples.
type ResourceKind string

const (
	ResourceCPU    ResourceKind = "cpu"
	ResourceMemory ResourceKind = "memory"
	ResourceDisk   ResourceKind = "disk"
)

// ResourceWatcher fires on a rising edge: the sampled percentage crosses
// thresholdPct from below to at-or-above it. It does not re-fire while
// already above threshold, matching how temperature-style alerts avoid
// re-alarming every poll tick.
type ResourceWatcher struct {
	base
	kind         ResourceKind
	thresholdPct float64
	path         string
	pollInterval time.Duration
	wasAbove     bool
}

func NewResourceWatcher(triggerID string, kind ResourceKind, thresholdPct float64, path string, fire FireFunc) *ResourceWatcher {
	if path == "" {
		path = "/"
	}
	return &ResourceWatcher{
		base: newBase(triggerID, fire), kind: kind, thresholdPct: thresholdPct,
		path: path, pollInterval: 10 * time.Second,
	}
}

func (w *ResourceWatcher) Start() {
	w.start(func(ctx context.Context) {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pct, err := w.sample(ctx)
				if err != nil {
					w.setErr(err)
					return
				}
				above := pct >= w.thresholdPct
				if above && !w.wasAbove {
					w.fireEvent("resource."+string(w.kind), map[string]any{
						"resource":  string(w.kind),
						"threshold": w.thresholdPct,
						"value":     pct,
						"fired_at":  time.Now().UTC().Format(time.RFC3339Nano),
					})
				}
				w.wasAbove = above
			}
		}
	})
}

func (w *ResourceWatcher) sample(ctx context.Context) (float64, error) {
	switch w.kind {
	case ResourceCPU:
		pcts, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return 0, fmt.Errorf("sample cpu: %w", err)
		}
		if len(pcts) == 0 {
			return 0, fmt.Errorf("sample cpu: no reading returned")
		}
		return pcts[0], nil
	case ResourceMemory:
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("sample memory: %w", err)
		}
		return vm.UsedPercent, nil
	case ResourceDisk:
		du, err := disk.UsageWithContext(ctx, w.path)
		if err != nil {
			return 0, fmt.Errorf("sample disk %q: %w", w.path, err)
		}
		return du.UsedPercent, nil
	default:
		return 0, fmt.Errorf("unknown resource kind %q", w.kind)
	}
}

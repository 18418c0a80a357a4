package watchers

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSystemWatcher fires when path sees one of the given events (created,
// modified, deleted, moved); an empty event set watches all four. Uses
// fsnotify — the kernel-native watch the rest of the example pack reaches
// for (itsneelabh-gomind) — rather than a hand-rolled polling loop.
type FileSystemWatcher struct {
	base
	path   string
	events map[string]bool
}

func NewFileSystemWatcher(triggerID, path string, events []string, fire FireFunc) *FileSystemWatcher {
	set := make(map[string]bool, 4)
	for _, e := range events {
		set[e] = true
	}
	if len(set) == 0 {
		set["created"] = true
		set["modified"] = true
		set["deleted"] = true
		set["moved"] = true
	}
	return &FileSystemWatcher{base: newBase(triggerID, fire), path: path, events: set}
}

func (w *FileSystemWatcher) Start() {
	w.start(func(ctx context.Context) {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.setErr(fmt.Errorf("create fsnotify watcher: %w", err))
			return
		}
		defer fsw.Close()

		if err := fsw.Add(w.path); err != nil {
			w.setErr(fmt.Errorf("watch %q: %w", w.path, err))
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				kind := classifyFsEvent(event.Op)
				if kind == "" || !w.events[kind] {
					continue
				}
				w.fireEvent("filesystem."+kind, map[string]any{
					"path":     event.Name,
					"fired_at": time.Now().UTC().Format(time.RFC3339Nano),
				})
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.setErr(err)
				return
			}
		}
	})
}

func classifyFsEvent(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "created"
	case op&fsnotify.Write != 0:
		return "modified"
	case op&fsnotify.Remove != 0:
		return "deleted"
	case op&fsnotify.Rename != 0:
		return "moved"
	default:
		return ""
	}
}

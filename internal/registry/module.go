// Package registry implements the Module Registry and the Node Registry:
// the single point of truth for which capability modules (filesystem,
// browser, excel, ...) are loaded and available, and the abstraction that
// decouples the executor from local-vs-remote action dispatch.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

// Module is the capability interface every IML module implements. Unlike
// original_source's modules/registry.py, which registers classes and
// instantiates them lazily on first access, Go modules are registered as
// already-constructed instances — there is no reflection-based
// class-instantiation step to defer, so "lazy loading" collapses to
// "construct it when you're ready to register it".
type Module interface {
	ID() string
	Manifest() model.ModuleManifest
	Execute(ctx context.Context, action string, params map[string]any) (any, error)
}

// ModuleRegistry is the runtime registry for loaded modules. Grounded
// directly on original_source's modules/registry.py ModuleRegistry: the
// available/failed/platform_excluded three-way split and its
// status_report() shape are preserved verbatim; only the
// class-vs-instance distinction is collapsed as described on Module.
type ModuleRegistry struct {
	mu               sync.RWMutex
	modules          map[string]Module
	failed           map[string]string
	platformExcluded map[string]string
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		modules:          make(map[string]Module),
		failed:           make(map[string]string),
		platformExcluded: make(map[string]string),
	}
}

// Register adds a module instance. Re-registering the same ID overwrites
// the previous instance and logs a warning, matching the Python registry's
// "module_already_registered" behaviour.
func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[m.ID()]; exists {
		slog.Warn("module already registered, overwriting", "module_id", m.ID())
	}
	r.modules[m.ID()] = m
	slog.Debug("module registered", "module_id", m.ID(), "version", m.Manifest().Version)
}

// ExcludeForPlatform records a module as intentionally unavailable on the
// current platform (e.g. an IoT module on a machine that isn't a Pi),
// distinct from a runtime load failure.
func (r *ModuleRegistry) ExcludeForPlatform(moduleID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platformExcluded[moduleID] = reason
	slog.Info("module platform excluded", "module_id", moduleID, "reason", reason)
}

// MarkFailed records a module as having failed to load at runtime
// (missing dependency, construction error, ...).
func (r *ModuleRegistry) MarkFailed(moduleID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[moduleID] = reason
	slog.Error("module load failed", "module_id", moduleID, "reason", reason)
}

// Get returns the module instance for moduleID.
func (r *ModuleRegistry) Get(moduleID string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reason, ok := r.platformExcluded[moduleID]; ok {
		return nil, imlerrors.New(imlerrors.ModuleLoadError, reason).WithDetail("module_id", moduleID)
	}
	if reason, ok := r.failed[moduleID]; ok {
		return nil, imlerrors.New(imlerrors.ModuleLoadError, reason).WithDetail("module_id", moduleID)
	}
	m, ok := r.modules[moduleID]
	if !ok {
		return nil, imlerrors.New(imlerrors.ModuleNotFound, "no such module").WithDetail("module_id", moduleID)
	}
	return m, nil
}

// IsAvailable reports whether the module is registered and not excluded or
// failed.
func (r *ModuleRegistry) IsAvailable(moduleID string) bool {
	_, err := r.Get(moduleID)
	return err == nil
}

// ListModules returns all known module IDs: registered plus
// platform-excluded, sorted.
func (r *ModuleRegistry) ListModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.modules)+len(r.platformExcluded))
	for id := range r.modules {
		seen[id] = true
	}
	for id := range r.platformExcluded {
		seen[id] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ListAvailable returns IDs of modules that loaded successfully.
func (r *ModuleRegistry) ListAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for id := range r.modules {
		if _, failed := r.failed[id]; failed {
			continue
		}
		if _, excluded := r.platformExcluded[id]; excluded {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ListFailed returns module_id -> reason for modules that failed at runtime.
func (r *ModuleRegistry) ListFailed() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.failed))
	for k, v := range r.failed {
		out[k] = v
	}
	return out
}

// ListPlatformExcluded returns module_id -> reason for platform-incompatible
// modules.
func (r *ModuleRegistry) ListPlatformExcluded() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.platformExcluded))
	for k, v := range r.platformExcluded {
		out[k] = v
	}
	return out
}

// GetManifest returns the manifest for a loaded module.
func (r *ModuleRegistry) GetManifest(moduleID string) (model.ModuleManifest, error) {
	m, err := r.Get(moduleID)
	if err != nil {
		return model.ModuleManifest{}, err
	}
	return m.Manifest(), nil
}

// AllManifests returns manifests for every available module.
func (r *ModuleRegistry) AllManifests() []model.ModuleManifest {
	available := r.ListAvailable()
	out := make([]model.ModuleManifest, 0, len(available))
	for _, id := range available {
		mf, err := r.GetManifest(id)
		if err != nil {
			slog.Warn("manifest fetch failed", "module_id", id, "error", err)
			continue
		}
		out = append(out, mf)
	}
	return out
}

// Unregister removes a module entirely (used by tests).
func (r *ModuleRegistry) Unregister(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, moduleID)
	delete(r.failed, moduleID)
	delete(r.platformExcluded, moduleID)
}

// StatusReport is the structure surfaced on the health endpoint.
type StatusReport struct {
	Available        []string          `json:"available"`
	Failed           map[string]string `json:"failed"`
	PlatformExcluded map[string]string `json:"platform_excluded"`
}

func (r *ModuleRegistry) StatusReport() StatusReport {
	return StatusReport{
		Available:        r.ListAvailable(),
		Failed:           r.ListFailed(),
		PlatformExcluded: r.ListPlatformExcluded(),
	}
}

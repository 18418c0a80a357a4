package scanner

import "sort"

// Registry holds every registered scanner (built-in and plugin) plus its
// enabled/disabled state. It has no internal locking: writes
// (Register/Unregister/Enable/Disable) are expected at startup, before the
// pipeline starts reading, grounded on original_source's
// ScannerRegistry (register/unregister/enable/disable/list, on-change
// notification).
type Registry struct {
	scanners map[string]Scanner
	enabled  map[string]bool
	onChange func()
}

func NewRegistry() *Registry {
	return &Registry{
		scanners: make(map[string]Scanner),
		enabled:  make(map[string]bool),
	}
}

// SetOnChange installs a callback invoked after every mutating call.
func (r *Registry) SetOnChange(fn func()) {
	r.onChange = fn
}

func (r *Registry) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}

// Register adds or replaces a scanner, enabled by default.
func (r *Registry) Register(s Scanner) {
	r.scanners[s.ID()] = s
	if _, exists := r.enabled[s.ID()]; !exists {
		r.enabled[s.ID()] = true
	}
	r.notify()
}

// Unregister removes a scanner. Returns true if it existed.
func (r *Registry) Unregister(id string) bool {
	_, existed := r.scanners[id]
	delete(r.scanners, id)
	delete(r.enabled, id)
	if existed {
		r.notify()
	}
	return existed
}

func (r *Registry) Get(id string) (Scanner, bool) {
	s, ok := r.scanners[id]
	return s, ok
}

// Enable turns a scanner on. Returns false if id is unknown.
func (r *Registry) Enable(id string) bool {
	if _, ok := r.scanners[id]; !ok {
		return false
	}
	r.enabled[id] = true
	r.notify()
	return true
}

// Disable turns a scanner off. Returns false if id is unknown.
func (r *Registry) Disable(id string) bool {
	if _, ok := r.scanners[id]; !ok {
		return false
	}
	r.enabled[id] = false
	r.notify()
	return true
}

func (r *Registry) IsEnabled(id string) bool {
	return r.enabled[id]
}

// ListAll returns every registered scanner sorted by ascending priority.
func (r *Registry) ListAll() []Scanner {
	out := make([]Scanner, 0, len(r.scanners))
	for _, s := range r.scanners {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}

// ListEnabled returns enabled scanners only, sorted by ascending priority.
func (r *Registry) ListEnabled() []Scanner {
	all := r.ListAll()
	out := make([]Scanner, 0, len(all))
	for _, s := range all {
		if r.enabled[s.ID()] {
			out = append(out, s)
		}
	}
	return out
}

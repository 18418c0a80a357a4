package eventbus

import (
	"strings"

	"github.com/llmos-bridge/daemon/internal/model"
)

// route pairs a topic pattern with the bus that should receive matching
// events. Patterns use MQTT-style wildcards:
//
//	*  matches exactly one dot-separated segment
//	#  matches the remainder of the topic (zero or more segments) and is
//	   only valid as the final segment of a pattern
type route struct {
	pattern string
	bus     Bus
}

// Router dispatches an event to every route whose pattern matches the
// topic, in registration order, plus a fallback bus that always receives
// every event regardless of whether anything else matched. This mirrors
// spec.md's description of the router as a fan-out on top of pattern
// subscriptions, not a first-match-wins dispatcher.
type Router struct {
	routes   []route
	fallback Bus
}

// NewRouter builds a Router. fallback may be nil, in which case unmatched
// (or all) events are simply dropped for routing purposes beyond the
// registered patterns.
func NewRouter(fallback Bus) *Router {
	if fallback == nil {
		fallback = NullBus{}
	}
	return &Router{fallback: fallback}
}

// Subscribe registers bus to receive every event whose topic matches
// pattern. Order of registration is preserved for delivery order.
func (r *Router) Subscribe(pattern string, bus Bus) {
	r.routes = append(r.routes, route{pattern: pattern, bus: bus})
}

func (r *Router) Emit(topic string, event model.EventRecord) {
	event = stamp(topic, event)

	for _, rt := range r.routes {
		if topicMatches(rt.pattern, topic) {
			rt.bus.Emit(topic, event)
		}
	}
	r.fallback.Emit(topic, event)
}

// topicMatches reports whether topic satisfies pattern under MQTT-style
// wildcard rules. Both are dot-separated segment sequences.
func topicMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")

	for i, p := range pSegs {
		if p == "#" {
			// '#' must be the last pattern segment and swallows everything
			// remaining, including zero segments.
			return i == len(pSegs)-1
		}
		if i >= len(tSegs) {
			return false
		}
		if p == "*" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}

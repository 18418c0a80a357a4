// Package eventbus implements the publish/subscribe fabric that carries
// plan, action, security, and trigger activity out of the daemon.
package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/llmos-bridge/daemon/internal/model"
)

// Bus delivers an event on a topic. Emit never raises: a backend that fails
// to persist or deliver an event logs the failure and returns, it never
// propagates an error to the caller. Losing an event must never abort plan
// execution.
type Bus interface {
	Emit(topic string, event model.EventRecord)
}

// stamp sets the fields every bus implementation owns on the way out,
// overwriting any caller-supplied values so a forged _topic/_timestamp in
// event data can never spoof routing or ordering.
func stamp(topic string, event model.EventRecord) model.EventRecord {
	if event == nil {
		event = model.EventRecord{}
	}
	event[model.KeyTopic] = topic
	event[model.KeyTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	return event
}

// UniversalEventOptions carries the optional envelope fields a caller may
// set when building a causally-linked event. Zero values are omitted.
type UniversalEventOptions struct {
	CausedBy      string
	Causes        []string
	SessionID     string
	CorrelationID string
	Priority      model.Priority
}

// NewUniversalEvent wraps a caller-provided payload in the envelope fields
// common to every event on the bus: a fresh event ID, and whichever
// causality/session/priority fields the caller supplied.
func NewUniversalEvent(data map[string]any, opts UniversalEventOptions) model.EventRecord {
	event := make(model.EventRecord, len(data)+6)
	for k, v := range data {
		event[k] = v
	}
	event[model.KeyEventID] = uuid.New().String()
	if opts.CausedBy != "" {
		event[model.KeyCausedBy] = opts.CausedBy
	}
	if len(opts.Causes) > 0 {
		event[model.KeyCauses] = opts.Causes
	}
	if opts.SessionID != "" {
		event[model.KeySessionID] = opts.SessionID
	}
	if opts.CorrelationID != "" {
		event[model.KeyCorrelationID] = opts.CorrelationID
	}
	if opts.Priority != "" {
		event[model.KeyPriority] = opts.Priority
	} else {
		event[model.KeyPriority] = model.PriorityNormal
	}
	return event
}

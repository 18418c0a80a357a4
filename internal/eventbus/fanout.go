package eventbus

import (
	"log/slog"

	"github.com/llmos-bridge/daemon/internal/model"
)

// FanoutBus delivers each event to every child bus. A child that panics is
// isolated — recovered and logged — so one broken sink (a closed file handle,
// a stale websocket) never stops the others from receiving the event.
type FanoutBus struct {
	children []Bus
}

func NewFanoutBus(children ...Bus) *FanoutBus {
	return &FanoutBus{children: children}
}

func (b *FanoutBus) Emit(topic string, event model.EventRecord) {
	for _, child := range b.children {
		b.emitOne(child, topic, event)
	}
}

func (b *FanoutBus) emitOne(child Bus, topic string, event model.EventRecord) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("event bus: child sink panicked", "topic", topic, "panic", r)
		}
	}()
	child.Emit(topic, event)
}

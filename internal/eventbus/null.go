package eventbus

import "github.com/llmos-bridge/daemon/internal/model"

// NullBus discards every event. Used in tests and as the default fallback
// for a Router with no configured sink.
type NullBus struct{}

func (NullBus) Emit(topic string, event model.EventRecord) {}

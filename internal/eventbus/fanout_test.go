package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmos-bridge/daemon/internal/model"
)

type panickingBus struct{}

func (panickingBus) Emit(topic string, event model.EventRecord) {
	panic("boom")
}

func TestFanoutBus_DeliversToEveryChild(t *testing.T) {
	a := &recordingBus{}
	b := &recordingBus{}
	fan := NewFanoutBus(a, b)

	fan.Emit(model.TopicPlans, model.EventRecord{})

	assert.Equal(t, []string{model.TopicPlans}, a.topics)
	assert.Equal(t, []string{model.TopicPlans}, b.topics)
}

func TestFanoutBus_IsolatesPanickingChild(t *testing.T) {
	after := &recordingBus{}
	fan := NewFanoutBus(panickingBus{}, after)

	assert.NotPanics(t, func() {
		fan.Emit(model.TopicErrors, model.EventRecord{})
	})
	assert.Equal(t, []string{model.TopicErrors}, after.topics)
}

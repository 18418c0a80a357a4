package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmos-bridge/daemon/internal/model"
)

type recordingBus struct {
	topics []string
}

func (b *recordingBus) Emit(topic string, event model.EventRecord) {
	b.topics = append(b.topics, topic)
}

func TestTopicMatches_ExactSegment(t *testing.T) {
	assert.True(t, topicMatches("llmos.plans", "llmos.plans"))
	assert.False(t, topicMatches("llmos.plans", "llmos.actions"))
}

func TestTopicMatches_SingleLevelWildcard(t *testing.T) {
	assert.True(t, topicMatches("llmos.*", "llmos.plans"))
	assert.False(t, topicMatches("llmos.*", "llmos.plans.created"))
	assert.True(t, topicMatches("llmos.*.created", "llmos.plans.created"))
}

func TestTopicMatches_MultiLevelWildcard(t *testing.T) {
	assert.True(t, topicMatches("llmos.#", "llmos.plans"))
	assert.True(t, topicMatches("llmos.#", "llmos.plans.created"))
	assert.True(t, topicMatches("llmos.#", "llmos"))
	assert.False(t, topicMatches("llmos.plans.#", "llmos.actions.started"))
}

func TestRouter_DeliversToAllMatchingRoutesAndFallback(t *testing.T) {
	plansBus := &recordingBus{}
	allBus := &recordingBus{}
	fallback := &recordingBus{}

	r := NewRouter(fallback)
	r.Subscribe("llmos.plans", plansBus)
	r.Subscribe("llmos.#", allBus)

	r.Emit(model.TopicPlans, model.EventRecord{"event": "plan.created"})

	assert.Equal(t, []string{model.TopicPlans}, plansBus.topics)
	assert.Equal(t, []string{model.TopicPlans}, allBus.topics)
	assert.Equal(t, []string{model.TopicPlans}, fallback.topics)
}

func TestRouter_NoMatchStillReachesFallback(t *testing.T) {
	actionsBus := &recordingBus{}
	fallback := &recordingBus{}

	r := NewRouter(fallback)
	r.Subscribe("llmos.actions", actionsBus)

	r.Emit(model.TopicSecurity, model.EventRecord{})

	assert.Empty(t, actionsBus.topics)
	assert.Equal(t, []string{model.TopicSecurity}, fallback.topics)
}

func TestRouter_NilFallbackDoesNotPanic(t *testing.T) {
	r := NewRouter(nil)
	assert.NotPanics(t, func() {
		r.Emit(model.TopicErrors, model.EventRecord{})
	})
}

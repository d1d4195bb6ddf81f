package signalbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(TopicTrust)
	defer unsubscribe()

	b.Publish(TopicTrust, "tier_changed", map[string]interface{}{"agent_id": "a1"})

	select {
	case sig := <-ch:
		assert.Equal(t, "tier_changed", sig.Type)
		assert.Equal(t, "a1", sig.Payload["agent_id"])
	case <-time.After(time.Second):
		t.Fatal("expected signal, got none")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsubscribe := b.Subscribe(TopicTrust)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+10; i++ {
			b.Publish(TopicTrust, "x", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(TopicAgent)
	unsubscribe()

	b.Publish(TopicAgent, "noop", nil)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestTopicIsolation(t *testing.T) {
	b := New()
	trustCh, unsub1 := b.Subscribe(TopicTrust)
	defer unsub1()
	agentCh, unsub2 := b.Subscribe(TopicAgent)
	defer unsub2()

	b.Publish(TopicTrust, "only_trust", nil)

	select {
	case <-agentCh:
		t.Fatal("agent subscriber should not see trust-topic signal")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case sig := <-trustCh:
		assert.Equal(t, "only_trust", sig.Type)
	case <-time.After(time.Second):
		t.Fatal("expected signal on trust topic")
	}
}

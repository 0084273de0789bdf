package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBroker_DeliversInProcess(t *testing.T) {
	topics := NewTopics()
	sub := newFakeSubscriber("c1", "customer:7")
	topics.Subscribe(CustomerTopic(7), sub)

	b := NewLocalBroker(topics)
	require.NoError(t, b.Run(context.Background()))
	require.NoError(t, b.Publish(context.Background(), Delivery{
		Topics: []string{CustomerTopic(7)},
		Frame:  []byte(`{"event":"new_message","data":{}}`),
	}))
	assert.Equal(t, 1, sub.count())
}

func TestRedisBroker_RelaysToEveryInstance(t *testing.T) {
	client := newRedis(t)
	channel := "test:relay:" + t.Name()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// two gateway instances sharing one channel
	eastTopics, westTopics := NewTopics(), NewTopics()
	east := NewRedisBroker(client, channel, eastTopics, zap.NewNop())
	west := NewRedisBroker(client, channel, westTopics, zap.NewNop())

	guest := newFakeSubscriber("c1", "customer:7")
	desk := newFakeSubscriber("c2", "admin:1")
	deskOtherTab := newFakeSubscriber("c3", "admin:1")
	eastTopics.Subscribe(CustomerTopic(7), guest)
	westTopics.Subscribe(TopicStaff, desk)
	westTopics.Subscribe(TopicStaff, deskOtherTab)

	done := make(chan error, 2)
	go func() { done <- east.Run(ctx) }()
	go func() { done <- west.Run(ctx) }()

	waitForSubscribers(t, client, channel, 2)

	require.NoError(t, east.Publish(ctx, Delivery{
		Topics: []string{CustomerTopic(7), TopicStaff},
		Frame:  []byte(`{"event":"new_message","data":{}}`),
	}))
	assert.Eventually(t, func() bool {
		return guest.count() == 1 && desk.count() == 1 && deskOtherTab.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, west.Publish(ctx, Delivery{
		Topics:         []string{TopicStaff},
		ExcludeUserKey: "admin:1",
		Frame:          []byte(`{"event":"user_typing","data":{}}`),
	}))
	require.NoError(t, west.Publish(ctx, Delivery{
		Topics: []string{TopicStaff},
		Frame:  []byte(`{"event":"admin_online","data":{}}`),
	}))
	// relay order is preserved, so once the second frame lands the first was handled
	assert.Eventually(t, func() bool {
		return desk.count() == 2 && deskOtherTab.count() == 2
	}, 2*time.Second, 10*time.Millisecond)
	for _, sub := range []*fakeSubscriber{desk, deskOtherTab} {
		sub.mu.Lock()
		assert.NotContains(t, string(sub.frames[1]), "user_typing", "excluded user key is skipped after relay")
		sub.mu.Unlock()
	}
	assert.Equal(t, 1, guest.count())

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not stop on cancel")
		}
	}
}

func TestRedisBroker_DropsMalformedPayloads(t *testing.T) {
	client := newRedis(t)
	channel := "test:relay:" + t.Name()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := NewTopics()
	sub := newFakeSubscriber("c1", "customer:7")
	topics.Subscribe(CustomerTopic(7), sub)
	b := NewRedisBroker(client, channel, topics, zap.NewNop())
	go func() { _ = b.Run(ctx) }()
	waitForSubscribers(t, client, channel, 1)

	require.NoError(t, client.Publish(ctx, channel, "not json").Err())
	require.NoError(t, b.Publish(ctx, Delivery{
		Topics: []string{CustomerTopic(7)},
		Frame:  []byte(`{"event":"new_message","data":{}}`),
	}))
	assert.Eventually(t, func() bool { return sub.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func waitForSubscribers(t *testing.T, client *redis.Client, channel string, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		counts, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && counts[channel] >= n
	}, 2*time.Second, 10*time.Millisecond)
}

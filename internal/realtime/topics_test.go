package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSubscriber struct {
	id      string
	userKey string
	accept  bool

	mu     sync.Mutex
	frames [][]byte
}

func newFakeSubscriber(id, userKey string) *fakeSubscriber {
	return &fakeSubscriber{id: id, userKey: userKey, accept: true}
}

func (f *fakeSubscriber) ID() string      { return f.id }
func (f *fakeSubscriber) UserKey() string { return f.userKey }

func (f *fakeSubscriber) Send(frame []byte) bool {
	if !f.accept {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestTopics_PublishDeduplicatesAcrossTopics(t *testing.T) {
	topics := NewTopics()
	staff := newFakeSubscriber("c1", "admin:1")
	guest := newFakeSubscriber("c2", "customer:7")

	topics.Subscribe(ConversationTopic("abc"), staff)
	topics.Subscribe(TopicStaff, staff)
	topics.Subscribe(ConversationTopic("abc"), guest)
	topics.Subscribe(CustomerTopic(7), guest)

	delivered := topics.Publish([]byte("x"), "", ConversationTopic("abc"), TopicStaff, CustomerTopic(7))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, staff.count())
	assert.Equal(t, 1, guest.count())
}

func TestTopics_PublishExcludesUserKey(t *testing.T) {
	topics := NewTopics()
	tabOne := newFakeSubscriber("c1", "customer:7")
	tabTwo := newFakeSubscriber("c2", "customer:7")
	staff := newFakeSubscriber("c3", "admin:1")
	for _, s := range []*fakeSubscriber{tabOne, tabTwo, staff} {
		topics.Subscribe(ConversationTopic("abc"), s)
	}

	delivered := topics.Publish([]byte("typing"), "customer:7", ConversationTopic("abc"))

	assert.Equal(t, 1, delivered)
	assert.Zero(t, tabOne.count())
	assert.Zero(t, tabTwo.count())
	assert.Equal(t, 1, staff.count())
}

func TestTopics_UnsubscribeAll(t *testing.T) {
	topics := NewTopics()
	sub := newFakeSubscriber("c1", "admin:1")
	topics.Subscribe(TopicAll, sub)
	topics.Subscribe(TopicStaff, sub)
	topics.Subscribe(ConversationTopic("abc"), sub)
	assert.True(t, topics.IsSubscribed(TopicStaff, sub))

	topics.Unsubscribe(ConversationTopic("abc"), sub)
	assert.False(t, topics.IsSubscribed(ConversationTopic("abc"), sub))
	assert.Equal(t, 1, topics.Count(TopicStaff))

	topics.UnsubscribeAll(sub)
	assert.Zero(t, topics.Count(TopicAll))
	assert.Zero(t, topics.Count(TopicStaff))
	assert.Zero(t, topics.Publish([]byte("x"), "", TopicAll, TopicStaff))
}

func TestTopics_RejectedSendIsNotCounted(t *testing.T) {
	topics := NewTopics()
	slow := newFakeSubscriber("c1", "customer:7")
	slow.accept = false
	topics.Subscribe(TopicAll, slow)

	assert.Zero(t, topics.Publish([]byte("x"), "", TopicAll))
}

func TestCustomerTopicMatchesIdentityKey(t *testing.T) {
	assert.Equal(t, "user:customer:7", CustomerTopic(7))
	assert.Equal(t, UserTopic("customer:7"), CustomerTopic(7))
}

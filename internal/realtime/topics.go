package realtime

import (
	"strconv"
	"sync"

	"github.com/spec-kit/guest-messaging/internal/domain"
)

// Well known topics.
const (
	TopicAll   = "all"
	TopicStaff = "staff"
)

// ConversationTopic is joined by connections viewing the conversation.
func ConversationTopic(conversationID string) string {
	return "conv:" + conversationID
}

// UserTopic reaches every connection of one identity.
func UserTopic(userKey string) string {
	return "user:" + userKey
}

// CustomerTopic reaches every connection of the given customer.
func CustomerTopic(customerID int64) string {
	return UserTopic(string(domain.SenderTypeCustomer) + ":" + strconv.FormatInt(customerID, 10))
}

// Subscriber receives frames published to topics it belongs to.
type Subscriber interface {
	ID() string
	UserKey() string
	// Send queues a frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
}

// Topics is the registry of topic memberships on this instance.
type Topics struct {
	mu          sync.RWMutex
	topics      map[string]map[string]Subscriber // topic -> subscriber id -> subscriber
	memberships map[string]map[string]struct{}   // subscriber id -> topics
}

// NewTopics constructs an empty registry.
func NewTopics() *Topics {
	return &Topics{
		topics:      make(map[string]map[string]Subscriber),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds sub to topic. Subscribing twice is harmless.
func (t *Topics) Subscribe(topic string, sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := t.topics[topic]
	if members == nil {
		members = make(map[string]Subscriber)
		t.topics[topic] = members
	}
	members[sub.ID()] = sub

	joined := t.memberships[sub.ID()]
	if joined == nil {
		joined = make(map[string]struct{})
		t.memberships[sub.ID()] = joined
	}
	joined[topic] = struct{}{}
}

// Unsubscribe removes sub from topic.
func (t *Topics) Unsubscribe(topic string, sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubscribeLocked(topic, sub.ID())
}

// UnsubscribeAll removes sub from every topic.
func (t *Topics) UnsubscribeAll(sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic := range t.memberships[sub.ID()] {
		t.unsubscribeLocked(topic, sub.ID())
	}
	delete(t.memberships, sub.ID())
}

// IsSubscribed reports whether sub belongs to topic.
func (t *Topics) IsSubscribed(topic string, sub Subscriber) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.topics[topic][sub.ID()]
	return ok
}

// Count returns the number of subscribers of topic.
func (t *Topics) Count(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topic])
}

// Publish delivers frame to the union of the given topics. A subscriber in
// several of them receives the frame once. Subscribers whose UserKey equals
// excludeUserKey are skipped. It returns the number of accepted deliveries.
func (t *Topics) Publish(frame []byte, excludeUserKey string, topics ...string) int {
	t.mu.RLock()
	targets := make(map[string]Subscriber)
	for _, topic := range topics {
		for id, sub := range t.topics[topic] {
			if excludeUserKey != "" && sub.UserKey() == excludeUserKey {
				continue
			}
			targets[id] = sub
		}
	}
	t.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.Send(frame) {
			delivered++
		}
	}
	return delivered
}

func (t *Topics) unsubscribeLocked(topic, id string) {
	if members := t.topics[topic]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(t.topics, topic)
		}
	}
	if joined := t.memberships[id]; joined != nil {
		delete(joined, topic)
		if len(joined) == 0 {
			delete(t.memberships, id)
		}
	}
}

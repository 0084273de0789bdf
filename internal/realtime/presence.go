package realtime

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Presence counts live staff connections per staff id. It is never persisted.
type Presence interface {
	// StaffConnected records a connection and reports whether it is the
	// staff member's first live one.
	StaffConnected(ctx context.Context, staffID int64) (first bool, err error)
	// StaffDisconnected drops a connection and reports whether it was the
	// staff member's last live one.
	StaffDisconnected(ctx context.Context, staffID int64) (last bool, err error)
	OnlineStaff(ctx context.Context) ([]int64, error)
}

// MemoryPresence tracks staff connections of this instance only.
type MemoryPresence struct {
	mu     sync.Mutex
	counts map[int64]int
}

// NewMemoryPresence creates an empty tracker.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{counts: make(map[int64]int)}
}

// StaffConnected implements Presence.
func (p *MemoryPresence) StaffConnected(_ context.Context, staffID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[staffID]++
	return p.counts[staffID] == 1, nil
}

// StaffDisconnected implements Presence.
func (p *MemoryPresence) StaffDisconnected(_ context.Context, staffID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[staffID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(p.counts, staffID)
		return true, nil
	}
	p.counts[staffID] = n - 1
	return false, nil
}

// OnlineStaff implements Presence.
func (p *MemoryPresence) OnlineStaff(context.Context) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, 0, len(p.counts))
	for id := range p.counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// RedisPresence shares staff connection counts between instances through a
// Redis hash keyed by staff id.
type RedisPresence struct {
	client *redis.Client
	key    string
}

// NewRedisPresence creates a tracker on the given hash key.
func NewRedisPresence(client *redis.Client, key string) *RedisPresence {
	return &RedisPresence{client: client, key: key}
}

// StaffConnected implements Presence.
func (p *RedisPresence) StaffConnected(ctx context.Context, staffID int64) (bool, error) {
	n, err := p.client.HIncrBy(ctx, p.key, strconv.FormatInt(staffID, 10), 1).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StaffDisconnected implements Presence.
func (p *RedisPresence) StaffDisconnected(ctx context.Context, staffID int64) (bool, error) {
	field := strconv.FormatInt(staffID, 10)
	n, err := p.client.HIncrBy(ctx, p.key, field, -1).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if err := p.client.HDel(ctx, p.key, field).Err(); err != nil {
		return n == 0, err
	}
	// below zero means the staff member was never counted here
	return n == 0, nil
}

// OnlineStaff implements Presence.
func (p *RedisPresence) OnlineStaff(ctx context.Context) ([]int64, error) {
	entries, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(entries))
	for field, count := range entries {
		n, err := strconv.Atoi(count)
		if err != nil || n <= 0 {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

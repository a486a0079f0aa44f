package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is the fallback when no Postgres is configured.
type Memory struct {
	mu      sync.RWMutex
	replays map[string]Replay
	streams map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		replays: map[string]Replay{},
		streams: map[string][]byte{},
	}
}

func (m *Memory) UpsertReplay(ctx context.Context, threadID, topic, style string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	r, ok := m.replays[threadID]
	if !ok {
		r = Replay{ThreadID: threadID, CreatedAt: now}
	}
	r.ResearchTopic = topic
	r.ReportStyle = style
	r.UpdatedAt = now
	m.replays[threadID] = r
	return nil
}

func (m *Memory) TouchReplay(ctx context.Context, threadID string, messageCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.replays[threadID]; ok {
		r.MessageCount = messageCount
		r.UpdatedAt = time.Now()
		m.replays[threadID] = r
	}
	return nil
}

func (m *Memory) GetReplay(ctx context.Context, threadID string) (Replay, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.replays[threadID]
	return r, ok, nil
}

func (m *Memory) ListReplays(ctx context.Context, limit int) ([]Replay, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Replay, 0, len(m.replays))
	for _, r := range m.replays {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertChatStream(ctx context.Context, threadID string, events []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(events))
	copy(cp, events)
	m.streams[threadID] = cp
	return nil
}

func (m *Memory) GetChatStream(ctx context.Context, threadID string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events, ok := m.streams[threadID]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(events))
	copy(cp, events)
	return cp, true, nil
}

func (m *Memory) StaleThreads(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, r := range m.replays {
		if r.UpdatedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.replays {
		if r.UpdatedAt.Before(cutoff) {
			delete(m.replays, id)
			delete(m.streams, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

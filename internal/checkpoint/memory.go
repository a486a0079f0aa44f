package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is the fallback when no Redis is configured. Runs are
// resumable only within the process lifetime.
type MemoryStore struct {
	mu      sync.RWMutex
	kv      map[string][]byte
	logs    map[string][][]byte
	cursors map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:      map[string][]byte{},
		logs:    map[string][][]byte{},
		cursors: map[string]int64{},
	}
}

func (s *MemoryStore) Put(ctx context.Context, ns, thread, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.kv[kvKey(ns, thread, key)] = cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ns, thread, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.kv[kvKey(ns, thread, key)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, true, nil
}

func (s *MemoryStore) Append(ctx context.Context, ns, thread string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	k := logKey(ns, thread)
	s.logs[k] = append(s.logs[k], cp)
	return int64(len(s.logs[k])), nil
}

func (s *MemoryStore) NextCursor(ctx context.Context, ns, thread string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := curKey(ns, thread)
	s.cursors[k]++
	return s.cursors[k], nil
}

func (s *MemoryStore) ReadLog(ctx context.Context, ns, thread string, from, to int64) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[logKey(ns, thread)]
	if from < 0 {
		from = 0
	}
	if to < 0 || to > int64(len(entries)) {
		to = int64(len(entries))
	}
	if from >= to {
		return nil, nil
	}
	out := make([][]byte, 0, to-from)
	for _, e := range entries[from:to] {
		cp := make([]byte, len(e))
		copy(cp, e)
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, thread string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.kv {
		if matchesThread(k, "cp:", thread) {
			delete(s.kv, k)
		}
	}
	for k := range s.logs {
		if matchesThread(k, "cplog:", thread) {
			delete(s.logs, k)
		}
	}
	for k := range s.cursors {
		if matchesThread(k, "cpcur:", thread) {
			delete(s.cursors, k)
		}
	}
	return nil
}

func matchesThread(key, prefix, thread string) bool {
	if len(key) < len(prefix)+len(thread) {
		return false
	}
	if key[:len(prefix)] != prefix {
		return false
	}
	rest := key[len(prefix):]
	return len(rest) >= len(thread) && rest[:len(thread)] == thread &&
		(len(rest) == len(thread) || rest[len(thread)] == ':')
}

func (s *MemoryStore) Close() error { return nil }

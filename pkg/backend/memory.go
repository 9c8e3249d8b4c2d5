package backend

import (
	"fmt"
	"maps"
	"sync"
)

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithQuota limits the total number of bytes (keys plus values) the backend
// will hold. Zero means unlimited.
func WithQuota(bytes int) MemoryOption {
	return func(m *Memory) {
		m.quota = bytes
	}
}

// WithData seeds the backend with data.
func WithData(data map[string]string) MemoryOption {
	return func(m *Memory) {
		for k, v := range data {
			m.data[k] = v
		}
	}
}

// Memory is a map-backed Backend. It behaves like browser local storage: a
// quota can be imposed and the whole surface can be switched off to emulate
// storage being disabled.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]string
	quota    int
	disabled bool
}

// NewMemory constructs an empty in-memory backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{data: map[string]string{}}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Get implements Backend.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled {
		return "", false, ErrUnavailable
	}
	value, ok := m.data[key]
	return value, ok, nil
}

// Set implements Backend.
func (m *Memory) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return ErrUnavailable
	}
	if m.quota > 0 {
		used := m.usageLocked()
		if prev, ok := m.data[key]; ok {
			used -= len(key) + len(prev)
		}
		if used+len(key)+len(value) > m.quota {
			return fmt.Errorf("%w: writing %q needs %d bytes, %d of %d in use",
				ErrQuotaExceeded, key, len(key)+len(value), used, m.quota)
		}
	}
	m.data[key] = value
	return nil
}

// Delete implements Deleter.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return ErrUnavailable
	}
	delete(m.data, key)
	return nil
}

// Disable makes every subsequent call fail with ErrUnavailable.
func (m *Memory) Disable() {
	m.mu.Lock()
	m.disabled = true
	m.mu.Unlock()
}

// Enable reverses Disable.
func (m *Memory) Enable() {
	m.mu.Lock()
	m.disabled = false
	m.mu.Unlock()
}

// Snapshot returns a copy of the stored data.
func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data)
}

// Usage reports the number of bytes held.
func (m *Memory) Usage() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usageLocked()
}

func (m *Memory) usageLocked() int {
	total := 0
	for k, v := range m.data {
		total += len(k) + len(v)
	}
	return total
}

// Package store provides the local key-value persistence used for the
// identity, room snapshots and the offline queue.
package store

import (
	"errors"
	"fmt"
	"sync"
)

// ErrQuotaExceeded is returned when a value does not fit the backend's quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KV is a string key-value store.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Memory is an in-process KV. The zero value is not usable; use NewMemory.
type Memory struct {
	data map[string]string
	lock sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.data, key)
	return nil
}

type limited struct {
	KV
	max int
}

// Limit wraps kv so that values longer than max bytes are refused with
// ErrQuotaExceeded. The previous value, if any, is left untouched.
func Limit(kv KV, max int) KV {
	if max <= 0 {
		return kv
	}
	return &limited{KV: kv, max: max}
}

func (l *limited) Set(key, value string) error {
	if len(value) > l.max {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, key, len(value), l.max)
	}
	return l.KV.Set(key, value)
}

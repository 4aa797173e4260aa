// Package memory is an in-memory Store implementation intended for tests,
// grounded on pkg/persistence/memory/memory.go: sync.RWMutex-guarded maps,
// a closed-flag guard on every operation, "not found" is not an error, and
// values are copied on write/read to prevent external mutation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dscp-io/connector/pkg/repository"
)

// Store is an in-memory repository.Store. All data is lost on restart.
type Store struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	locks  map[string]*sync.Mutex
	locksM sync.Mutex
	closed bool
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		data:  make(map[string]map[string][]byte),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) Put(_ context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrClosed{}
	}
	bucket, ok := s.data[collection]
	if !ok {
		bucket = make(map[string][]byte)
		s.data[collection] = bucket
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	bucket[key] = cp
	return nil
}

func (s *Store) Get(_ context.Context, collection, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, repository.ErrClosed{}
	}
	bucket, ok := s.data[collection]
	if !ok {
		return nil, false, nil
	}
	value, ok := bucket[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, true, nil
}

func (s *Store) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrClosed{}
	}
	if bucket, ok := s.data[collection]; ok {
		delete(bucket, key)
	}
	return nil
}

func (s *Store) List(_ context.Context, collection, prefix string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, repository.ErrClosed{}
	}
	bucket, ok := s.data[collection]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v := bucket[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) Lock(_ context.Context, key string) (func(), error) {
	s.locksM.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.locksM.Unlock()

	m.Lock()
	return func() { m.Unlock() }, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}

var _ repository.Store = (*Store)(nil)

// Package badger is a durable, single-node repository.Store backed by
// dgraph-io/badger/v3, grounded on pkg/persistence/badger/badger.go: the
// same SyncWrites-enabled, prefix-namespaced key scheme and background
// value-log GC loop, generalized from one fixed key set
// (keyshare/active/nodestate/session) to an arbitrary collection/key pair.
package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/dscp-io/connector/pkg/repository"
	"go.uber.org/zap"
)

// Store is a badger-backed repository.Store.
type Store struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	locks    sync.Map // string -> *sync.Mutex
	closed   bool
}

// New opens (creating if absent) a badger database at dataPath.
func New(dataPath string, logger *zap.Logger) (*Store, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("resolve badger path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &loggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database at %s: %w", absPath, err)
	}

	s := &Store{db: db, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	s.gcCancel = cancel
	s.gcWg.Add(1)
	go s.runGC(ctx)

	logger.Sugar().Infow("badger repository store initialized", "path", absPath)
	return s, nil
}

func (s *Store) runGC(ctx context.Context) {
	defer s.gcWg.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && err != badgerdb.ErrNoRewrite {
				s.logger.Sugar().Warnw("badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func namespacedKey(collection, key string) []byte {
	return []byte(collection + ":" + key)
}

func (s *Store) Put(_ context.Context, collection, key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return repository.ErrClosed{}
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(namespacedKey(collection, key), value)
	})
}

func (s *Store) Get(_ context.Context, collection, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, repository.ErrClosed{}
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(namespacedKey(collection, key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	if data == nil {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *Store) Delete(_ context.Context, collection, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return repository.ErrClosed{}
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(namespacedKey(collection, key))
	})
}

func (s *Store) List(_ context.Context, collection, prefix string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, repository.ErrClosed{}
	}

	var out [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = namespacedKey(collection, prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var data []byte
			if err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			}); err != nil {
				return err
			}
			out = append(out, data)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s*: %w", collection, prefix, err)
	}
	return out, nil
}

func (s *Store) Lock(_ context.Context, key string) (func(), error) {
	actual, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	m := actual.(*sync.Mutex)
	m.Lock()
	return func() { m.Unlock() }, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.gcCancel != nil {
		s.gcCancel()
	}
	s.gcWg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger database: %w", err)
	}
	return nil
}

func (s *Store) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("badger repository store is closed")
	}
	return s.db.View(func(txn *badgerdb.Txn) error { return nil })
}

// loggerAdapter satisfies badger's Logger interface with a zap.Logger,
// mirroring pkg/persistence/badger/logger.go.
type loggerAdapter struct {
	logger *zap.Logger
}

func (l *loggerAdapter) Errorf(format string, args ...any)   { l.logger.Sugar().Errorf(format, args...) }
func (l *loggerAdapter) Warningf(format string, args ...any) { l.logger.Sugar().Warnf(format, args...) }
func (l *loggerAdapter) Infof(format string, args ...any)    { l.logger.Sugar().Infof(format, args...) }
func (l *loggerAdapter) Debugf(format string, args ...any)   { l.logger.Sugar().Debugf(format, args...) }

var _ repository.Store = (*Store)(nil)

package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/zerocopy/internal/logger"
)

// BadgerSink stores records in an embedded Badger database.
type BadgerSink struct {
	db     *badgerdb.DB
	mu     sync.RWMutex
	closed bool
}

// NewBadgerSink opens (or creates) the database in dir. An empty dir opens
// an in-memory database.
func NewBadgerSink(dir string) (*BadgerSink, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

// Name implements Sink.
func (s *BadgerSink) Name() string { return SinkBadger }

func (s *BadgerSink) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// Write implements Sink.
func (s *BadgerSink) Write(ctx context.Context, key string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set([]byte(key), data); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
		return nil
	})
}

// Read implements Sink.
func (s *BadgerSink) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return data, nil
}

// List implements Sink. Badger iterates keys in byte order.
func (s *BadgerSink) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		p := []byte(prefix)
		it := txn.NewIterator(badgerdb.IteratorOptions{Prefix: p})
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return keys, nil
}

// HealthCheck implements Sink.
func (s *BadgerSink) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	// A read transaction fails once the database is closed or corrupted.
	if err := s.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *BadgerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerLogger routes Badger's internal logging to the process logger.
// Informational chatter is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error("badger: "+strings.TrimSpace(fmt.Sprintf(format, args...)), logger.Sink(SinkBadger))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn("badger: "+strings.TrimSpace(fmt.Sprintf(format, args...)), logger.Sink(SinkBadger))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug("badger: "+strings.TrimSpace(fmt.Sprintf(format, args...)), logger.Sink(SinkBadger))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug("badger: "+strings.TrimSpace(fmt.Sprintf(format, args...)), logger.Sink(SinkBadger))
}

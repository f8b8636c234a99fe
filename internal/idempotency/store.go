// Package idempotency keeps short-lived keys in Badger so a retried request
// can be recognised and answered with its first result.
package idempotency

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

var ErrStoreClosed = errors.New("idempotency store is closed")

type Store struct {
	db *badger.DB
}

// Open opens a store in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("idempotency: failed to open badger: %w", err)
	}

	log.Info().Str("dir", dir).Bool("in_memory", dir == "").Msg("idempotency: store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores value under key, replacing whatever was there. A ttl of zero
// never expires.
func (s *Store) Put(key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry(key, value, ttl))
	})
	if err != nil {
		return wrap("put", err)
	}
	return nil
}

// PutIfAbsent stores value only when key is not present and reports whether
// it did.
func (s *Store) PutIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return errKeyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(entry(key, value, ttl))
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errKeyExists), errors.Is(err, badger.ErrConflict):
		return false, nil
	default:
		return false, wrap("put if absent", err)
	}
}

// Get returns the value under key. ok is false when the key is missing or
// expired.
func (s *Store) Get(key string) (value []byte, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", err)
	}
	return value, true, nil
}

// Take removes key and returns the value it held. Of several concurrent
// callers at most one gets ok.
func (s *Store) Take(key string) (value []byte, ok bool, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		if value, err = item.ValueCopy(nil); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, badger.ErrKeyNotFound), errors.Is(err, badger.ErrConflict):
		return nil, false, nil
	default:
		return nil, false, wrap("take", err)
	}
}

var errKeyExists = errors.New("key exists")

func entry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

func wrap(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrStoreClosed
	}
	return fmt.Errorf("idempotency: %s: %w", op, err)
}

// badgerLogger routes badger's own logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	log.Error().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	log.Warn().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	log.Debug().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	log.Trace().Str("component", "badger").Msgf(format, args...)
}

package store

import (
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/registry"
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerKeyPrefix  = "dedup:"
	badgerSessionKey = "session"
)

const report_badger = "badger"

type BadgerOptions struct {
	Path     string `json:"path"`
	InMemory bool   `json:"in_memory"`
}

// Badger stores keys and the session snapshot in an embedded badger database.
// Writes are synced before they return.
type Badger struct {
	db *badger.DB
}

type badgerLogger struct {
	tel telemetry.API
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.tel.ReportBroken(report_badger, fmt.Errorf(strings.TrimSpace(format), args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.tel.ReportWarning(report_badger, fmt.Sprintf(strings.TrimSpace(format), args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.tel.ReportDebug(fmt.Sprintf(strings.TrimSpace(format), args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.tel.ReportDebug(fmt.Sprintf(strings.TrimSpace(format), args...))
}

func OpenBadger(opts BadgerOptions, tel telemetry.API) (Badger, error) {
	path := opts.Path
	if opts.InMemory {
		path = ""
	} else if path == "" {
		path = "state/badger"
	}

	badgerOpts := badger.DefaultOptions(path).
		WithInMemory(opts.InMemory).
		WithSyncWrites(true).
		WithLogger(badgerLogger{tel: tel})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return Badger{}, wrapOpenDB(err)
	}
	return Badger{db: db}, nil
}

func (b Badger) LoadSession(ctx context.Context) (registry.Snapshot, bool, error) {
	var snapshot registry.Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerSessionKey))
		if err != nil {
			return err
		}
		serialized, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&snapshot)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return registry.Snapshot{}, false, nil
	}
	if err != nil {
		return registry.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func (b Badger) SaveSession(ctx context.Context, snapshot registry.Snapshot) error {
	var buff bytes.Buffer
	err := gob.NewEncoder(&buff).Encode(snapshot)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerSessionKey), buff.Bytes())
	})
}

func (b Badger) HasKey(ctx context.Context, key string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(badgerKeyPrefix + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b Badger) PutKey(ctx context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key), []byte{1})
	})
}

func (b Badger) DeleteKeys(ctx context.Context, keys ...string) error {
	batch := b.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		err := batch.Delete([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
	}
	return batch.Flush()
}

func (b Badger) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = []byte(badgerKeyPrefix)

		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			keys = append(keys, strings.TrimPrefix(key, badgerKeyPrefix))
		}
		return nil
	})
	return keys, err
}

func (b Badger) Close() error {
	return b.db.Close()
}

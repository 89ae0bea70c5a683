package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key layout: record:{seq:020d}. Zero-padded sequence numbers make Badger's
// lexicographic iteration order equal replay order.
const recordKeyPrefix = "record:"

// BadgerLog is the durable record log backed by Badger. The DB handle's
// lifecycle is owned by the caller.
type BadgerLog struct {
	db *badger.DB
}

// NewBadgerLog wraps an open Badger database as a record log.
func NewBadgerLog(db *badger.DB) *BadgerLog {
	return &BadgerLog{db: db}
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", recordKeyPrefix, seq))
}

func (l *BadgerLog) Append(_ context.Context, record *MemoryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("record log: marshal: %w", err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(record.Seq), data)
	})
}

func (l *BadgerLog) Replay(ctx context.Context, fn func(*MemoryRecord) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record MemoryRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("record log: decode seq entry: %w", err)
			}
			if err := fn(&record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BadgerLog) DeleteSession(_ context.Context, sessionID string) (int, error) {
	count := 0
	err := l.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var doomed [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			var record MemoryRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			if record.SessionID == sessionID {
				doomed = append(doomed, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (l *BadgerLog) DeleteAll(_ context.Context) (int, error) {
	count := 0
	err := l.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var doomed [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			doomed = append(doomed, it.Item().KeyCopy(nil))
		}
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Close is a no-op; the Badger DB is closed by whoever opened it.
func (l *BadgerLog) Close() error {
	return nil
}

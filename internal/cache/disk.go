package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// diskTier is the Badger-backed spill tier. It receives entries evicted
// from the in-process LRU and serves last-resort reads; Badger's native
// entry TTL enforces expiry without a sweeper.
type diskTier struct {
	db *badger.DB
}

// OpenDiskTier opens (or creates) the Badger store at path.
func OpenDiskTier(path string) (*diskTier, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open disk tier %q: %w", path, err)
	}
	return &diskTier{db: db}, nil
}

func (t *diskTier) get(key string) (Entry, bool) {
	var e Entry
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			slog.Debug("cache: disk get failed", "key", key, "err", err)
		}
		return Entry{}, false
	}
	return e, true
}

func (t *diskTier) set(e Entry) {
	remaining := e.TTL - time.Since(e.InsertedAt)
	if remaining <= 0 {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	err = t.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(e.Key), data).WithTTL(remaining)
		return txn.SetEntry(entry)
	})
	if err != nil {
		slog.Debug("cache: disk set failed", "key", e.Key, "err", err)
	}
}

func (t *diskTier) invalidatePrefix(prefix string) error {
	return t.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, k)
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *diskTier) close() error {
	return t.db.Close()
}

// Package badger provides a BadgerDB-backed object store.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/tdcache/internal/factcache/physical"
)

// Key layout:
//
//	obj/<key>               JSON object, with a badger TTL when it expires
//	exp/<deadline>/<key>    expiry index, deadline as 16 hex digits
const (
	prefixObject = "obj/"
	prefixExpiry = "exp/"
)

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	physical.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.tdcache/objects",
		KeySyncWrites:       "false",
		KeyValueLogFileSize: strconv.FormatInt(1<<28, 10),
		KeyMemTableSize:     strconv.FormatInt(64<<20, 10),
		KeyInMemory:         "false",
	}
}

// NewFactory creates a BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	s := physical.NewSettings("badger", config)

	inMemory, err := s.Bool(KeyInMemory, false)
	if err != nil {
		return nil, err
	}
	memTableSize, err := s.Int64(KeyMemTableSize, 64<<20)
	if err != nil {
		return nil, err
	}
	if inMemory {
		return newInMemory(memTableSize)
	}

	path := s.Path(KeyPath, "")
	if path == "" {
		return nil, physical.NewConfigError("badger", KeyPath, "cannot be empty")
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, physical.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
	}

	syncWrites, err := s.Bool(KeySyncWrites, false)
	if err != nil {
		return nil, err
	}
	valueLogFileSize, err := s.Int64(KeyValueLogFileSize, 1<<28)
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).WithLogger(nil).WithSyncWrites(syncWrites)
	if valueLogFileSize > 0 {
		opts.ValueLogFileSize = valueLogFileSize
	}
	if memTableSize > 0 {
		opts.MemTableSize = memTableSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, physical.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}

	slog.Info("badger object store initialized", "path", path, "sync_writes", syncWrites)
	return NewWithDB(db), nil
}

func newInMemory(memTableSize int64) (*Backend, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	if memTableSize > 0 {
		opts.MemTableSize = memTableSize
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, physical.NewConfigErrorWithCause("badger", KeyInMemory, "failed to open in-memory database", err)
	}
	slog.Info("badger object store initialized (in-memory)")
	return NewWithDB(db), nil
}

// Backend is a BadgerDB implementation of physical.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewWithDB creates a backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB) *Backend {
	return &Backend{db: db}
}

func objectKey(key string) []byte { return []byte(prefixObject + key) }

func expiryKey(deadline int64, key string) []byte {
	return []byte(prefixExpiry + deadlineHex(deadline) + "/" + key)
}

func deadlineHex(deadline int64) string {
	return fmt.Sprintf("%016x", uint64(deadline)) //nolint:gosec
}

// Put stores an object, replacing any previous version and its deadline.
func (b *Backend) Put(_ context.Context, obj *physical.Object) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode object: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.dropExpiry(txn, obj.Key); err != nil {
			return err
		}

		e := badger.NewEntry(objectKey(obj.Key), data)
		if ttl := obj.TTL(time.Now()); ttl > 0 {
			e = e.WithTTL(ttl)
		}
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("badger put: %w", err)
		}
		if obj.ExpiresAt > 0 {
			if err := txn.Set(expiryKey(obj.ExpiresAt, obj.Key), nil); err != nil {
				return fmt.Errorf("badger put expiry: %w", err)
			}
		}
		return nil
	})
}

// dropExpiry removes the expiry index entry of the stored version of key.
func (b *Backend) dropExpiry(txn *badger.Txn, key string) error {
	old, err := getInTxn(txn, key)
	if errors.Is(err, physical.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if old.ExpiresAt > 0 {
		return txn.Delete(expiryKey(old.ExpiresAt, key))
	}
	return nil
}

func getInTxn(txn *badger.Txn, key string) (*physical.Object, error) {
	item, err := txn.Get(objectKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}

	var obj physical.Object
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &obj)
	}); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return &obj, nil
}

// Get retrieves an object by key.
func (b *Backend) Get(_ context.Context, key string) (*physical.Object, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var obj *physical.Object
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		obj, err = getInTxn(txn, key)
		return err
	})
	return obj, err
}

// Delete removes an object. Deleting a missing key is not an error.
func (b *Backend) Delete(_ context.Context, key string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.dropExpiry(txn, key); err != nil {
			return err
		}
		return txn.Delete(objectKey(key))
	})
}

// deleteExpiredBatchSize bounds the index entries handled per transaction.
// Each entry costs up to two deletes, well under badger's per-transaction
// limit at the default memtable size.
const deleteExpiredBatchSize = 1000

// DeleteExpired walks the expiry index up to now. Objects badger already
// dropped through their TTL are still reported, since only the index
// remembers them. Index entries left behind by an overwritten version are
// discarded without touching the current object.
//
// The sweep commits in batches. On error the keys of batches already
// committed are returned alongside it.
func (b *Backend) DeleteExpired(_ context.Context, now time.Time) ([]string, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	limit := prefixExpiry + deadlineHex(now.UnixNano()) + "/\xff"
	var keys []string
	for {
		n, err := b.deleteExpiredBatch(limit, &keys)
		if err != nil {
			return keys, fmt.Errorf("badger delete expired: %w", err)
		}
		if n < deleteExpiredBatchSize {
			return keys, nil
		}
	}
}

// deleteExpiredBatch handles up to deleteExpiredBatchSize due index entries
// in one transaction and returns how many it handled. Handled entries are
// deleted, so the next batch starts again from the front of the index.
func (b *Backend) deleteExpiredBatch(limit string, keys *[]string) (int, error) {
	type indexed struct {
		raw      []byte
		key      string
		deadline int64
	}
	var due []indexed
	var swept []string

	err := b.db.Update(func(txn *badger.Txn) error {
		due, swept = due[:0], swept[:0]

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixExpiry)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid() && len(due) < deleteExpiredBatchSize; it.Next() {
			k := it.Item().KeyCopy(nil)
			if string(k) > limit {
				break
			}
			rest := string(k[len(prefixExpiry):])
			if len(rest) < 17 {
				continue
			}
			deadline, err := strconv.ParseUint(rest[:16], 16, 64)
			if err != nil {
				continue
			}
			due = append(due, indexed{raw: k, key: rest[17:], deadline: int64(deadline)}) //nolint:gosec
		}
		it.Close()

		for _, d := range due {
			if err := txn.Delete(d.raw); err != nil {
				return err
			}
			cur, err := getInTxn(txn, d.key)
			switch {
			case errors.Is(err, physical.ErrNotFound):
			case err != nil:
				return err
			case cur.ExpiresAt != d.deadline:
				continue
			default:
				if err := txn.Delete(objectKey(d.key)); err != nil {
					return err
				}
			}
			swept = append(swept, d.key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	*keys = append(*keys, swept...)
	return len(due), nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixObject)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger stats: %w", err)
	}

	lsm, vlog := b.db.Size()
	return &physical.Stats{
		Objects:     n,
		SizeBytes:   lsm + vlog,
		BackendType: "badger",
	}, nil
}

// RunGC triggers value log garbage collection.
func (b *Backend) RunGC(discardRatio float64) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	for {
		if err := b.db.RunValueLogGC(discardRatio); err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				return nil
			}
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

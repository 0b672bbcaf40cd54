// Package embedcache persists speaker embeddings between runs in a Badger
// database so re-clustering the same timeline skips the embedding service.
package embedcache

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "embedding/"

// Options configures Open.
type Options struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in memory, for tests.
	InMemory bool
	Log      logrus.FieldLogger
}

// Cache is a key/value store of embedding vectors. It satisfies
// speakers.EmbeddingCache.
type Cache struct {
	db  *badger.DB
	log logrus.FieldLogger
}

func Open(opts Options) (*Cache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("embedcache: Dir is required for on-disk mode")
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "embedcache")

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		// badger refuses a directory in memory-only mode
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts.WithLogger(badgerLogger{log}))
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Cache{db: db, log: log}, nil
}

func encodeKey(key string) []byte { return []byte(keyPrefix + key) }

// Get returns the vector stored under key. A miss is (nil, false, nil).
func (c *Cache) Get(_ context.Context, key string) ([]float32, bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v []float32
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("decode embedding %q: %w", key, err)
	}
	return v, true, nil
}

func (c *Cache) Put(_ context.Context, key string, v []float32) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode embedding %q: %w", key, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(key), raw)
	})
}

// DropNamespace removes every vector whose key starts with namespace + "/".
func (c *Cache) DropNamespace(namespace string) error {
	return c.db.DropPrefix(encodeKey(namespace + "/"))
}

// Count returns how many vectors are stored under namespace.
func (c *Cache) Count(namespace string) (int, error) {
	prefix := encodeKey(namespace + "/")
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// badgerLogger routes badger's own messages through logrus, dropping its
// info and debug chatter.
type badgerLogger struct{ log logrus.FieldLogger }

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Errorf("badger: "+f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warnf("badger: "+f, v...) }
func (badgerLogger) Infof(string, ...interface{})          {}
func (badgerLogger) Debugf(string, ...interface{})         {}

package cache

import (
	"context"
	"encoding/binary"
	"iter"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/serializer"
)

// BoltCache stores every key as a bbolt bucket of sequence numbered batches.
type BoltCache struct {
	db         *bolt.DB
	serializer serializer.Serializer
	logger     *zap.Logger
}

// NewBoltCache opens (or creates) the database file at path. A directory
// path gets a cache.db file inside it.
func NewBoltCache(path string, s serializer.Serializer, log *zap.Logger) (*BoltCache, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "cache.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create cache directory").
			WithDetail("path", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open bolt cache").
			WithDetail("path", path)
	}
	if s == nil {
		s = serializer.NewBinary()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BoltCache{db: db, serializer: s, logger: log.With(zap.String("cache", "bolt"))}, nil
}

func sequenceKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func (c *BoltCache) Append(ctx context.Context, key string, rows row.Rows) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := c.serializer.Serialize(rows)
	if err != nil {
		return err
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), data)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to append to bolt cache").WithDetail("key", key)
	}
	return nil
}

// Read loads one batch per read transaction so no transaction stays open
// while the caller consumes rows.
func (c *BoltCache) Read(ctx context.Context, key string) iter.Seq2[row.Row, error] {
	return func(yield func(row.Row, error) bool) {
		var last []byte
		for {
			if err := ctx.Err(); err != nil {
				yield(row.Row{}, err)
				return
			}
			var data []byte
			err := c.db.View(func(tx *bolt.Tx) error {
				b := tx.Bucket([]byte(key))
				if b == nil {
					return nil
				}
				cur := b.Cursor()
				var k, v []byte
				if last == nil {
					k, v = cur.First()
				} else if k, v = cur.Seek(last); k != nil && string(k) == string(last) {
					k, v = cur.Next()
				}
				if k == nil {
					return nil
				}
				last = append([]byte(nil), k...)
				data = append([]byte(nil), v...)
				return nil
			})
			if err != nil {
				yield(row.Row{}, errors.Wrap(err, errors.ErrorTypeRuntime, "failed to read bolt cache").WithDetail("key", key))
				return
			}
			if data == nil {
				return
			}
			batch, err := c.serializer.Deserialize(data)
			if err != nil {
				yield(row.Row{}, err)
				return
			}
			for _, r := range batch.All() {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

func (c *BoltCache) Get(ctx context.Context, key string) (row.Rows, error) {
	return collect(ctx, c, key)
}

func (c *BoltCache) Has(_ context.Context, key string) bool {
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(key)) != nil
		return nil
	})
	return found
}

func (c *BoltCache) Remove(_ context.Context, key string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(key))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to remove bolt cache key").WithDetail("key", key)
	}
	c.logger.Debug("removed cache key", zap.String("key", key))
	return nil
}

// Close releases the database file.
func (c *BoltCache) Close() error {
	return c.db.Close()
}

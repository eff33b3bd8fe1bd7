package cache

import (
	"context"
	"encoding/binary"
	"io"
	"iter"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/pool"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/serializer"
)

const fileExtension = ".rows"

// FilesystemCache stores every key in its own append only file of length
// prefixed serialized batches.
type FilesystemCache struct {
	dir        string
	serializer serializer.Serializer
	logger     *zap.Logger
}

// NewFilesystemCache creates dir when missing.
func NewFilesystemCache(dir string, s serializer.Serializer, log *zap.Logger) (*FilesystemCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create cache directory").
			WithDetail("path", dir)
	}
	if s == nil {
		s = serializer.NewBinary()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FilesystemCache{dir: dir, serializer: s, logger: log.With(zap.String("cache", "filesystem"))}, nil
}

func (c *FilesystemCache) path(key string) string {
	return filepath.Join(c.dir, url.PathEscape(key)+fileExtension)
}

func (c *FilesystemCache) Append(ctx context.Context, key string, rows row.Rows) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := c.serializer.Serialize(rows)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(c.path(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open cache file").WithDetail("key", key)
	}
	defer f.Close()

	frame := binary.AppendUvarint(make([]byte, 0, len(data)+binary.MaxVarintLen64), uint64(len(data)))
	if _, err := f.Write(append(frame, data...)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to append to cache file").WithDetail("key", key)
	}
	return f.Close()
}

// Read streams rows batch by batch. The file is closed when the sequence is
// exhausted or abandoned.
func (c *FilesystemCache) Read(ctx context.Context, key string) iter.Seq2[row.Row, error] {
	return func(yield func(row.Row, error) bool) {
		f, err := os.Open(c.path(key))
		if os.IsNotExist(err) {
			return
		}
		if err != nil {
			yield(row.Row{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to open cache file").WithDetail("key", key))
			return
		}
		defer f.Close()

		r := pool.GetReader(f)
		defer pool.PutReader(r)
		for {
			if err := ctx.Err(); err != nil {
				yield(row.Row{}, err)
				return
			}
			size, err := binary.ReadUvarint(r)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(row.Row{}, errors.Wrap(err, errors.ErrorTypeFile, "corrupted cache file").WithDetail("key", key))
				return
			}
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				yield(row.Row{}, errors.Wrap(err, errors.ErrorTypeFile, "truncated cache file").WithDetail("key", key))
				return
			}
			batch, err := c.serializer.Deserialize(data)
			if err != nil {
				yield(row.Row{}, err)
				return
			}
			for _, rw := range batch.All() {
				if !yield(rw, nil) {
					return
				}
			}
		}
	}
}

func (c *FilesystemCache) Get(ctx context.Context, key string) (row.Rows, error) {
	return collect(ctx, c, key)
}

func (c *FilesystemCache) Has(_ context.Context, key string) bool {
	_, err := os.Stat(c.path(key))
	return err == nil
}

func (c *FilesystemCache) Remove(_ context.Context, key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove cache file").WithDetail("key", key)
	}
	c.logger.Debug("removed cache key", zap.String("key", key))
	return nil
}

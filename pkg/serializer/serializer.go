// Package serializer encodes rows into a compact, versioned binary format
// used by caches and by the external sort spill files.
//
// Every payload starts with a two byte magic, a format version and a
// payload tag (single row or batch). Entries carry their full type
// descriptor, so nested list, map and structure types as well as datetime
// zones survive a round trip unchanged.
//
// Object entries are encoded with encoding/gob and their concrete types must
// be registered with gob.Register before they can be decoded.
package serializer

import (
	"github.com/rowflow/rowflow/pkg/compression"
	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/row"
)

// Serializer converts rows to bytes and back.
type Serializer interface {
	Serialize(rows row.Rows) ([]byte, error)
	Deserialize(data []byte) (row.Rows, error)
	SerializeRow(r row.Row) ([]byte, error)
	DeserializeRow(data []byte) (row.Row, error)
}

// Compressing compresses the output of another serializer.
type Compressing struct {
	serializer Serializer
	compressor compression.Compressor
}

// NewCompressing wraps s with c. A nil compressor uses snappy.
func NewCompressing(s Serializer, c compression.Compressor) (*Compressing, error) {
	if c == nil {
		var err error
		if c, err = compression.NewCompressor(nil); err != nil {
			return nil, err
		}
	}
	return &Compressing{serializer: s, compressor: c}, nil
}

func (c *Compressing) Serialize(rows row.Rows) ([]byte, error) {
	data, err := c.serializer.Serialize(rows)
	if err != nil {
		return nil, err
	}
	return c.compress(data)
}

func (c *Compressing) Deserialize(data []byte) (row.Rows, error) {
	raw, err := c.decompress(data)
	if err != nil {
		return row.Rows{}, err
	}
	return c.serializer.Deserialize(raw)
}

func (c *Compressing) SerializeRow(r row.Row) ([]byte, error) {
	data, err := c.serializer.SerializeRow(r)
	if err != nil {
		return nil, err
	}
	return c.compress(data)
}

func (c *Compressing) DeserializeRow(data []byte) (row.Row, error) {
	raw, err := c.decompress(data)
	if err != nil {
		return row.Row{}, err
	}
	return c.serializer.DeserializeRow(raw)
}

func (c *Compressing) compress(data []byte) ([]byte, error) {
	out, err := c.compressor.Compress(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRuntime, "failed to compress serialized rows").
			WithDetail("algorithm", string(c.compressor.Algorithm()))
	}
	return out, nil
}

func (c *Compressing) decompress(data []byte) ([]byte, error) {
	out, err := c.compressor.Decompress(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRuntime, "failed to decompress serialized rows").
			WithDetail("algorithm", string(c.compressor.Algorithm()))
	}
	return out, nil
}

// Package json provides JSON serialization backed by goccy/go-json with pooled buffers
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal that does not escape HTML
func Marshal(v interface{}) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Remove trailing newline added by Encode
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// UnmarshalNumber decodes data keeping numbers as gojson.Number so integers
// and floats can be told apart.
func UnmarshalNumber(data []byte, v interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Valid reports whether data is a valid JSON encoding
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// Number is the decoded representation of JSON numbers when UseNumber is set
type Number = gojson.Number

// NewDecoder returns a decoder that preserves numbers as Number
func NewDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// LineEncoder writes one JSON document per line
type LineEncoder struct {
	encoder *gojson.Encoder
}

// NewLineEncoder creates a new line-delimited encoder
func NewLineEncoder(w io.Writer) *LineEncoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &LineEncoder{encoder: enc}
}

// Encode writes v followed by a newline
func (le *LineEncoder) Encode(v interface{}) error {
	return le.encoder.Encode(v)
}

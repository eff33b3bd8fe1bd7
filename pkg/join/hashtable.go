package join

import (
	"slices"

	"github.com/rowflow/rowflow/pkg/hash"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/types"
)

type bucketRow struct {
	row     row.Row
	seq     int
	matches int
}

// Bucket holds build rows sharing a key hash, in insertion order, together
// with the number of times each was matched by a stream row.
type Bucket struct {
	rows []*bucketRow
}

// Len returns the number of rows in the bucket.
func (b *Bucket) Len() int { return len(b.rows) }

// Row returns the i-th row.
func (b *Bucket) Row(i int) row.Row { return b.rows[i].row }

// Matches returns how many stream rows matched the i-th row.
func (b *Bucket) Matches(i int) int { return b.rows[i].matches }

// HashTable maps key hashes of build rows to buckets.
type HashTable struct {
	alg     hash.Algorithm
	keys    []string
	buckets map[string]*Bucket
	columns columns
	size    int
}

// NewHashTable creates a table hashing build rows by keys.
func NewHashTable(alg hash.Algorithm, keys ...string) *HashTable {
	if alg == nil {
		alg = hash.Default()
	}
	return &HashTable{alg: alg, keys: keys, buckets: make(map[string]*Bucket)}
}

// Hash returns the bucket hash of r over keys. Rows lacking a key entry
// hash it as null.
func (t *HashTable) Hash(r row.Row, keys []string) string {
	return hash.String(t.alg, r.Key(keys...))
}

// Add appends every row of a batch to the bucket of its hash.
func (t *HashTable) Add(rows row.Rows) {
	for _, r := range rows.All() {
		h := t.Hash(r, t.keys)
		b, ok := t.buckets[h]
		if !ok {
			b = &Bucket{}
			t.buckets[h] = b
		}
		b.rows = append(b.rows, &bucketRow{row: r, seq: t.size})
		t.size++
		t.columns.observe(r)
	}
}

// Bucket returns the bucket stored under h.
func (t *HashTable) Bucket(h string) (*Bucket, bool) {
	b, ok := t.buckets[h]
	return b, ok
}

// Len returns the number of build rows.
func (t *HashTable) Len() int { return t.size }

// Unmatched returns build rows never matched, in insertion order.
func (t *HashTable) Unmatched() []row.Row {
	var rows []*bucketRow
	for _, b := range t.buckets {
		for _, br := range b.rows {
			if br.matches == 0 {
				rows = append(rows, br)
			}
		}
	}
	slices.SortFunc(rows, func(a, b *bucketRow) int { return a.seq - b.seq })
	out := make([]row.Row, len(rows))
	for i, br := range rows {
		out[i] = br.row
	}
	return out
}

// columns tracks entry names and types seen on one side of the join, used
// to fill the missing side of outer join rows with typed nulls.
type columns struct {
	names []string
	types map[string]types.Type
}

func (c *columns) observe(r row.Row) {
	if c.types == nil {
		c.types = make(map[string]types.Type)
	}
	for _, e := range r.Entries() {
		t, seen := c.types[e.Name()]
		if !seen {
			c.names = append(c.names, e.Name())
		}
		if !seen || (t.Kind == types.KindNull && e.Type().Kind != types.KindNull) {
			c.types[e.Name()] = e.Type()
		}
	}
}

// nulls returns a row of null entries for every observed column.
func (c *columns) nulls() row.Row {
	entries := make([]row.Entry, len(c.names))
	for i, name := range c.names {
		entries[i] = row.NullOf(name, c.types[name])
	}
	return row.Must(entries...)
}

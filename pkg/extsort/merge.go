package extsort

import (
	"context"
	"iter"

	"github.com/google/btree"

	"github.com/rowflow/rowflow/pkg/row"
)

// head is the next unconsumed row of one bucket.
type head struct {
	row    row.Row
	bucket int
}

type cursor struct {
	key  string
	next func() (row.Row, error, bool)
	stop func()
}

// merge performs the k-way merge over spilled buckets. The frontier holds
// at most one row per bucket, ordered by the sort keys and then by bucket
// index, which keeps rows with equal keys in arrival order.
func (s *Sorter) merge(ctx context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		frontier := btree.NewG(8, func(a, b head) bool {
			if c := s.compare(a.row, b.row); c != 0 {
				return c < 0
			}
			return a.bucket < b.bucket
		})

		cursors := make([]*cursor, len(s.buckets))
		defer func() {
			for _, c := range cursors {
				if c != nil {
					c.stop()
				}
			}
		}()

		// advance pulls the next row of bucket i into the frontier, closing
		// and removing the bucket once it is exhausted.
		advance := func(i int) error {
			c := cursors[i]
			r, err, ok := c.next()
			if err != nil {
				return err
			}
			if ok {
				frontier.ReplaceOrInsert(head{row: r, bucket: i})
				return nil
			}
			c.stop()
			cursors[i] = nil
			return s.cache.Remove(ctx, c.key)
		}

		for i, key := range s.buckets {
			next, stop := iter.Pull2(s.cache.Read(ctx, key))
			cursors[i] = &cursor{key: key, next: next, stop: stop}
			if err := advance(i); err != nil {
				yield(row.Rows{}, err)
				return
			}
		}

		batch := make([]row.Row, 0, s.batchSize)
		for frontier.Len() > 0 {
			h, _ := frontier.DeleteMin()
			batch = append(batch, h.row)
			if err := advance(h.bucket); err != nil {
				yield(row.Rows{}, err)
				return
			}
			if len(batch) == s.batchSize {
				if !yield(row.NewRows(batch...), nil) {
					return
				}
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			yield(row.NewRows(batch...), nil)
		}
	}
}

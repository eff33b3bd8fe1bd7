// Package groupby groups rows by key entries and folds every group through
// a set of aggregations.
//
// Groups are kept in memory, bucketed by the hash of their normalized key
// values and told apart by the key itself, and emitted in the order their key was first seen. A GroupBy
// without keys folds all rows into a single group.
package groupby

import (
	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/hash"
	"github.com/rowflow/rowflow/pkg/row"
)

// GroupBy accumulates groups over any number of batches.
type GroupBy struct {
	keys         []string
	aggregations []Aggregation
	alg          hash.Algorithm
	logger       *zap.Logger

	groups map[string][]*group
	order  []*group
}

type group struct {
	id          string
	key         []row.Entry
	aggregators []Aggregator
}

// Option configures a GroupBy.
type Option func(*GroupBy)

// WithHashAlgorithm changes how group keys are hashed.
func WithHashAlgorithm(alg hash.Algorithm) Option {
	return func(g *GroupBy) { g.alg = alg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *GroupBy) { g.logger = l }
}

// New groups by the given entry names.
func New(keys ...string) *GroupBy {
	return &GroupBy{
		keys:   keys,
		alg:    hash.Default(),
		logger: zap.NewNop(),
		groups: make(map[string][]*group),
	}
}

// With applies options and returns g.
func (g *GroupBy) With(opts ...Option) *GroupBy {
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Keys returns the grouping entry names.
func (g *GroupBy) Keys() []string {
	return g.keys
}

// Aggregate registers aggregations. Output names must not collide with keys
// or with each other.
func (g *GroupBy) Aggregate(aggs ...Aggregation) error {
	if len(aggs) == 0 {
		return errors.New(errors.ErrorTypeInvalidArgument, "aggregate requires at least one aggregation")
	}
	if len(g.groups) > 0 {
		return errors.New(errors.ErrorTypeInvalidLogic, "aggregations cannot be added after rows were grouped")
	}
	taken := make(map[string]struct{}, len(g.keys)+len(g.aggregations)+len(aggs))
	for _, k := range g.keys {
		taken[k] = struct{}{}
	}
	for _, a := range g.aggregations {
		taken[a.Name()] = struct{}{}
	}
	for _, a := range aggs {
		if a.NewAggregator() == nil {
			return errors.Newf(errors.ErrorTypeInvalidArgument, "unknown aggregation %q", a.Kind)
		}
		if _, exists := taken[a.Name()]; exists {
			return errors.Newf(errors.ErrorTypeInvalidArgument,
				"aggregation %s produces entry %q which already exists, use As to rename it", a, a.Name()).
				WithDetail("entry", a.Name())
		}
		taken[a.Name()] = struct{}{}
	}
	g.aggregations = append(g.aggregations, aggs...)
	return nil
}

// Group folds a batch into the groups.
func (g *GroupBy) Group(rs row.Rows) error {
	for _, r := range rs.All() {
		grp, err := g.find(r)
		if err != nil {
			return err
		}
		for _, a := range grp.aggregators {
			a.Aggregate(r)
		}
	}
	return nil
}

// find returns the group of r, creating it on first sight. Rows whose keys
// share a hash stay in separate groups.
func (g *GroupBy) find(r row.Row) (*group, error) {
	for _, name := range g.keys {
		e, ok := r.Find(name)
		if ok && !e.Type().IsScalar() {
			return nil, errors.Newf(errors.ErrorTypeRuntime,
				"cannot group by entry %q of type %s, only scalar entries can be grouped", name, e.Type()).
				WithDetail("entry", name)
		}
	}
	id := r.Key(g.keys...)
	h := g.alg.Hash([]byte(id))
	for _, grp := range g.groups[h] {
		if grp.id == id {
			return grp, nil
		}
	}
	grp := g.newGroup(id, r)
	g.groups[h] = append(g.groups[h], grp)
	g.order = append(g.order, grp)
	return grp, nil
}

func (g *GroupBy) newGroup(id string, r row.Row) *group {
	grp := &group{
		id:          id,
		key:         make([]row.Entry, len(g.keys)),
		aggregators: make([]Aggregator, len(g.aggregations)),
	}
	for i, name := range g.keys {
		e, ok := r.Find(name)
		if !ok {
			e = row.Null(name)
		}
		grp.key[i] = e
	}
	for i, a := range g.aggregations {
		grp.aggregators[i] = a.NewAggregator()
	}
	return grp
}

// Len returns the number of groups seen so far.
func (g *GroupBy) Len() int {
	return len(g.order)
}

// Result returns one row per group in first-seen order: the key entries
// followed by one entry per aggregation.
func (g *GroupBy) Result() (row.Rows, error) {
	out := make([]row.Row, 0, len(g.order))
	for _, grp := range g.order {
		entries := make([]row.Entry, 0, len(grp.key)+len(grp.aggregators))
		entries = append(entries, grp.key...)
		for i, a := range grp.aggregators {
			e, err := a.Result(g.aggregations[i].Name())
			if err != nil {
				return row.Rows{}, errors.Wrap(err, errors.ErrorTypeRuntime,
					"aggregation "+g.aggregations[i].String()+" failed")
			}
			entries = append(entries, e)
		}
		r, err := row.New(entries...)
		if err != nil {
			return row.Rows{}, err
		}
		out = append(out, r)
	}
	g.logger.Debug("grouped rows",
		zap.Strings("keys", g.keys),
		zap.Int("groups", len(out)))
	return row.NewRows(out...), nil
}

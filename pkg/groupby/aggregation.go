package groupby

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/types"
)

// Kind names an aggregating function.
type Kind string

const (
	KindSum           Kind = "sum"
	KindAvg           Kind = "avg"
	KindMin           Kind = "min"
	KindMax           Kind = "max"
	KindCount         Kind = "count"
	KindFirst         Kind = "first"
	KindLast          Kind = "last"
	KindCollect       Kind = "collect"
	KindCollectUnique Kind = "collect_unique"
)

// Kinds lists every supported aggregation.
var Kinds = []Kind{
	KindSum, KindAvg, KindMin, KindMax, KindCount,
	KindFirst, KindLast, KindCollect, KindCollectUnique,
}

// Aggregation applies a function of Kind to one entry of every row in a
// group.
type Aggregation struct {
	Kind  Kind
	Entry string
	alias string
}

// Parse builds an aggregation from its textual kind.
func Parse(kind, entry string) (Aggregation, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(kind)))
	for _, known := range Kinds {
		if k == known {
			if entry == "" {
				return Aggregation{}, errors.New(errors.ErrorTypeInvalidArgument, "aggregation entry name cannot be empty")
			}
			return Aggregation{Kind: k, Entry: entry}, nil
		}
	}
	return Aggregation{}, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown aggregation %q", kind).
		WithDetail("kind", kind)
}

// Sum sums numeric values, coercing numeric strings.
func Sum(entry string) Aggregation { return Aggregation{Kind: KindSum, Entry: entry} }

// Avg averages numeric values as a float.
func Avg(entry string) Aggregation { return Aggregation{Kind: KindAvg, Entry: entry} }

// Min keeps the smallest value.
func Min(entry string) Aggregation { return Aggregation{Kind: KindMin, Entry: entry} }

// Max keeps the largest value.
func Max(entry string) Aggregation { return Aggregation{Kind: KindMax, Entry: entry} }

// Count counts non-null values.
func Count(entry string) Aggregation { return Aggregation{Kind: KindCount, Entry: entry} }

// First keeps the first value seen, null included.
func First(entry string) Aggregation { return Aggregation{Kind: KindFirst, Entry: entry} }

// Last keeps the last value seen, null included.
func Last(entry string) Aggregation { return Aggregation{Kind: KindLast, Entry: entry} }

// Collect gathers every non-null value into a list.
func Collect(entry string) Aggregation { return Aggregation{Kind: KindCollect, Entry: entry} }

// CollectUnique gathers distinct non-null values in first-seen order.
func CollectUnique(entry string) Aggregation { return Aggregation{Kind: KindCollectUnique, Entry: entry} }

// As overrides the output entry name.
func (a Aggregation) As(name string) Aggregation {
	a.alias = name
	return a
}

// Name returns the output entry name, <entry>_<kind> unless overridden.
func (a Aggregation) Name() string {
	if a.alias != "" {
		return a.alias
	}
	return a.Entry + "_" + string(a.Kind)
}

func (a Aggregation) String() string {
	return string(a.Kind) + "(" + a.Entry + ")"
}

// Aggregator accumulates the values of one group.
type Aggregator interface {
	Aggregate(r row.Row)
	Result(name string) (row.Entry, error)
}

// NewAggregator returns a fresh accumulator for a.
func (a Aggregation) NewAggregator() Aggregator {
	switch a.Kind {
	case KindSum:
		return &sum{entry: a.Entry, integral: true}
	case KindAvg:
		return &avg{sum: sum{entry: a.Entry, integral: true}}
	case KindMin:
		return &extreme{entry: a.Entry, want: -1}
	case KindMax:
		return &extreme{entry: a.Entry, want: 1}
	case KindCount:
		return &count{entry: a.Entry}
	case KindFirst:
		return &pick{entry: a.Entry, first: true}
	case KindLast:
		return &pick{entry: a.Entry}
	case KindCollect:
		return &collect{entry: a.Entry}
	case KindCollectUnique:
		return &collect{entry: a.Entry, unique: true}
	}
	return nil
}

// numeric coerces integers, floats and numeric strings. integral reports
// whether the value had no fractional representation.
func numeric(e row.Entry) (d decimal.Decimal, integral bool, ok bool) {
	switch v := e.Value().(type) {
	case int64:
		return decimal.NewFromInt(v), true, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, false, false
		}
		return decimal.NewFromFloat(v), false, true
	case string:
		s := strings.TrimSpace(v)
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, false, false
		}
		return d, !strings.ContainsAny(s, ".eE"), true
	}
	return decimal.Decimal{}, false, false
}

func numberEntry(name string, d decimal.Decimal, integral bool) row.Entry {
	if integral && d.IsInteger() {
		return row.Int(name, d.IntPart())
	}
	return row.Float(name, d.Round(row.FloatPrecision).InexactFloat64())
}

type sum struct {
	entry    string
	total    decimal.Decimal
	seen     int
	integral bool
}

func (s *sum) Aggregate(r row.Row) {
	e, ok := r.Find(s.entry)
	if !ok || e.IsNull() {
		return
	}
	d, integral, ok := numeric(e)
	if !ok {
		return
	}
	s.total = s.total.Add(d)
	s.integral = s.integral && integral
	s.seen++
}

func (s *sum) Result(name string) (row.Entry, error) {
	if s.seen == 0 {
		return row.NullOf(name, types.Integer()), nil
	}
	return numberEntry(name, s.total, s.integral), nil
}

type avg struct {
	sum
}

func (a *avg) Result(name string) (row.Entry, error) {
	if a.seen == 0 {
		return row.NullOf(name, types.Float()), nil
	}
	mean := a.total.DivRound(decimal.NewFromInt(int64(a.seen)), row.FloatPrecision)
	return row.Float(name, mean.InexactFloat64()), nil
}

// extreme tracks the minimum (want -1) or maximum (want 1). Numeric values
// compare by decimal value, anything else by row.Compare.
type extreme struct {
	entry    string
	want     int
	best     row.Entry
	number   decimal.Decimal
	integral bool
	isNumber bool
	seen     bool
}

func (x *extreme) Aggregate(r row.Row) {
	e, ok := r.Find(x.entry)
	if !ok || e.IsNull() {
		return
	}
	if d, integral, ok := numeric(e); ok {
		if !x.seen || !x.isNumber || sign(d.Cmp(x.number)) == x.want {
			x.number, x.integral, x.isNumber, x.seen = d, integral, true, true
		}
		return
	}
	if x.isNumber {
		return
	}
	if !x.seen || sign(row.Compare(e, x.best)) == x.want {
		x.best, x.seen = e, true
	}
}

func (x *extreme) Result(name string) (row.Entry, error) {
	switch {
	case !x.seen:
		return row.Null(name), nil
	case x.isNumber:
		return numberEntry(name, x.number, x.integral), nil
	}
	return x.best.Rename(name), nil
}

func sign(c int) int {
	switch {
	case c < 0:
		return -1
	case c > 0:
		return 1
	}
	return 0
}

type count struct {
	entry string
	n     int64
}

func (c *count) Aggregate(r row.Row) {
	if e, ok := r.Find(c.entry); ok && !e.IsNull() {
		c.n++
	}
}

func (c *count) Result(name string) (row.Entry, error) {
	return row.Int(name, c.n), nil
}

// pick keeps the first or last entry seen, nulls included.
type pick struct {
	entry string
	first bool
	kept  *row.Entry
}

func (p *pick) Aggregate(r row.Row) {
	e, ok := r.Find(p.entry)
	if !ok || (p.first && p.kept != nil) {
		return
	}
	p.kept = &e
}

func (p *pick) Result(name string) (row.Entry, error) {
	if p.kept == nil {
		return row.Null(name), nil
	}
	return p.kept.Rename(name), nil
}

// collect gathers non-null values into a list. The element type is the
// shared type of the collected entries; mixed types produce an array.
type collect struct {
	entry   string
	unique  bool
	entries []row.Entry
}

func (c *collect) Aggregate(r row.Row) {
	e, ok := r.Find(c.entry)
	if !ok || e.IsNull() {
		return
	}
	if c.unique {
		for _, seen := range c.entries {
			if seen.ValueEqual(e, row.StrictObjects) {
				return
			}
		}
	}
	c.entries = append(c.entries, e)
}

func (c *collect) Result(name string) (row.Entry, error) {
	values := make([]interface{}, len(c.entries))
	for i, e := range c.entries {
		values[i] = e.Value()
	}
	if len(c.entries) == 0 {
		return row.NewEntry(name, types.Array(), values)
	}
	element := c.entries[0].Type()
	for _, e := range c.entries[1:] {
		if !e.Type().Equal(element) {
			return row.NewEntry(name, types.Array(), values)
		}
	}
	return row.List(name, element, values)
}

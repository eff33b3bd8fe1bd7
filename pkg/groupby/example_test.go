package groupby_test

import (
	"fmt"
	"log"

	"github.com/rowflow/rowflow/pkg/groupby"
	"github.com/rowflow/rowflow/pkg/row"
)

// ExampleSum totals an entry per group and counts the rows behind each
// total under a custom name.
func ExampleSum() {
	g := groupby.New("country")
	if err := g.Aggregate(groupby.Sum("amount"), groupby.Count("amount").As("orders")); err != nil {
		log.Fatal(err)
	}

	err := g.Group(row.NewRows(
		row.Must(row.Str("country", "PL"), row.Int("amount", 10)),
		row.Must(row.Str("country", "US"), row.Int("amount", 1)),
		row.Must(row.Str("country", "PL"), row.Int("amount", 5)),
		row.Must(row.Str("country", "PL"), row.Null("amount")),
	))
	if err != nil {
		log.Fatal(err)
	}

	out, err := g.Result()
	if err != nil {
		log.Fatal(err)
	}
	for _, m := range out.ToMaps() {
		fmt.Println(m["country"], m["amount_sum"], m["orders"])
	}

	// Output:
	// PL 15 2
	// US 1 1
}

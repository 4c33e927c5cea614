package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// MaxOccupancy bounds the per-occupancy price keys (price1..price10 on the wire).
const MaxOccupancy = 10

// OccupancyPrices maps an occupancy count to the nightly price for it.
type OccupancyPrices map[int]decimal.Decimal

func (p OccupancyPrices) Validate() error {
	for occ, v := range p {
		if occ < 1 || occ > MaxOccupancy {
			return fmt.Errorf("occupancy %d out of range 1..%d", occ, MaxOccupancy)
		}
		if v.IsNegative() {
			return fmt.Errorf("negative price for occupancy %d", occ)
		}
	}
	return nil
}

// Occupancies returns the keys in ascending order.
func (p OccupancyPrices) Occupancies() []int {
	out := make([]int, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// PriceTable is what the local rate lookup returns for one room/plan/date.
type PriceTable struct {
	Prices  OccupancyPrices
	MinStay *int
	Closed  *bool
}

package pricing

import "math"

// Break is a quantity-triggered unit price. Fields hold NaN when the source
// value was not numeric.
type Break struct {
	MinimumQuantity float64
	Price           float64
}

// Schedule is the normalised pricing record for a product.
type Schedule struct {
	BasePrice float64
	Breaks    []Break
}

// Quote captures the components that produced a unit price.
type Quote struct {
	BasePrice  float64
	BreakPrice float64
	Surcharge  float64
	UnitPrice  float64
}

// Changed reports whether the final unit price differs from the base price.
func (q Quote) Changed() bool {
	return q.UnitPrice != q.BasePrice
}

// Resolve returns the price of the qualifying break with the largest minimum
// quantity not exceeding quantity, or basePrice when none qualifies.
func Resolve(basePrice float64, breaks []Break, quantity float64) float64 {
	if len(breaks) == 0 {
		return basePrice
	}
	price := basePrice
	var best float64
	for _, b := range breaks {
		if !b.candidate() {
			continue
		}
		// strictly greater keeps the first entry on duplicate minimums
		if quantity >= b.MinimumQuantity && b.MinimumQuantity > best {
			price = b.Price
			best = b.MinimumQuantity
		}
	}
	return price
}

// Price resolves the schedule for quantity and adds the per-unit surcharge.
func Price(s Schedule, quantity, surcharge float64) Quote {
	resolved := Resolve(s.BasePrice, s.Breaks, quantity)
	return Quote{
		BasePrice:  s.BasePrice,
		BreakPrice: resolved,
		Surcharge:  surcharge,
		UnitPrice:  resolved + surcharge,
	}
}

func (b Break) candidate() bool {
	return IsFinite(b.Price) && b.Price > 0
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

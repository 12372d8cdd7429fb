package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/noah-isme/cart-pricebreaks/internal/metafield"
	"github.com/noah-isme/cart-pricebreaks/internal/pricing"
)

// Input is the cart snapshot supplied by the host for one run.
type Input struct {
	Cart *Cart `json:"cart"`
}

// ErrLineShape marks a cart line whose JSON fields have the wrong types.
var ErrLineShape = errors.New("transform: malformed cart line")

// Cart holds the ordered cart lines.
type Cart struct {
	Lines []*CartLine `json:"lines"`

	decodeErr error
}

// UnmarshalJSON never fails on well-formed JSON. A cart that is not an object,
// or whose lines are not an array, decodes with no lines.
func (c *Cart) UnmarshalJSON(data []byte) error {
	*c = Cart{}
	var wire struct {
		Lines json.RawMessage `json:"lines"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		c.decodeErr = err
		return nil
	}
	if len(wire.Lines) == 0 {
		return nil
	}
	if err := json.Unmarshal(wire.Lines, &c.Lines); err != nil {
		c.Lines = nil
		c.decodeErr = err
	}
	return nil
}

// CartLine is one purchasable entry in the cart.
type CartLine struct {
	ID          string       `json:"id" validate:"required"`
	Quantity    int          `json:"quantity"`
	Merchandise *Merchandise `json:"merchandise" validate:"required"`

	decodeErr error
}

// UnmarshalJSON keeps a badly typed line in the cart instead of failing the
// whole document. The decode error is kept and the line is skipped during
// evaluation. Integral numbers such as 20.0 are accepted as quantities.
func (l *CartLine) UnmarshalJSON(data []byte) error {
	*l = CartLine{}
	var wire struct {
		ID          string       `json:"id"`
		Quantity    json.Number  `json:"quantity"`
		Merchandise *Merchandise `json:"merchandise"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		var ref struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(data, &ref)
		l.ID = ref.ID
		l.decodeErr = fmt.Errorf("%w: %v", ErrLineShape, err)
		return nil
	}
	l.ID = wire.ID
	l.Merchandise = wire.Merchandise
	qty, err := quantityOf(wire.Quantity)
	if err != nil {
		l.decodeErr = fmt.Errorf("%w: %v", ErrLineShape, err)
		return nil
	}
	l.Quantity = qty
	return nil
}

func quantityOf(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("quantity %s is not an integer", n)
	}
	return int(f), nil
}

// Merchandise references what a line is buying. Typename discriminates
// variants from other merchandise kinds.
type Merchandise struct {
	Typename string   `json:"__typename"`
	ID       string   `json:"id,omitempty"`
	Product  *Product `json:"product,omitempty"`
}

// Product carries the metafields used for pricing.
type Product struct {
	ID         string             `json:"id,omitempty"`
	Metafields []*metafield.Field `json:"metafields"`
}

// FunctionResult is returned to the host.
type FunctionResult struct {
	Operations []Operation `json:"operations"`
}

// Operation is a single cart instruction.
type Operation struct {
	Update *UpdateOperation `json:"update,omitempty"`
}

// UpdateOperation fixes the unit price of a cart line.
type UpdateOperation struct {
	CartLineID string      `json:"cartLineId"`
	Price      UpdatePrice `json:"price"`
}

// UpdatePrice wraps the price adjustment.
type UpdatePrice struct {
	Adjustment PriceAdjustment `json:"adjustment"`
}

// PriceAdjustment sets a fixed per-unit price.
type PriceAdjustment struct {
	FixedPricePerUnit Money `json:"fixedPricePerUnit"`
}

// Money is a decimal amount rendered as a string.
type Money struct {
	Amount string `json:"amount"`
}

// NewUpdate builds an update operation fixing the line's unit price to amount.
func NewUpdate(cartLineID string, amount float64) Operation {
	return Operation{Update: &UpdateOperation{
		CartLineID: cartLineID,
		Price: UpdatePrice{Adjustment: PriceAdjustment{
			FixedPricePerUnit: Money{Amount: pricing.FormatAmount(amount)},
		}},
	}}
}

// Empty returns a result with no operations.
func Empty() FunctionResult {
	return FunctionResult{Operations: []Operation{}}
}

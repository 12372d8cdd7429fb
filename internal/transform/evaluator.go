package transform

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-pricebreaks/internal/metafield"
	"github.com/noah-isme/cart-pricebreaks/internal/pricing"
)

// ErrLineFault wraps a panic recovered while evaluating a single line.
var ErrLineFault = errors.New("transform: line evaluation fault")

// Outcome classifies how a cart line was handled.
type Outcome string

const (
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeInvalidLine Outcome = "invalid_line"
	OutcomeNotVariant  Outcome = "not_variant"
	OutcomeNoPricing   Outcome = "no_pricing"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeFault       Outcome = "fault"
)

// Decision is the result of evaluating one cart line. Operation is set only
// for OutcomeUpdated.
type Decision struct {
	Outcome   Outcome
	Operation *Operation
	Quote     pricing.Quote
	Err       error
}

// Evaluate decides whether line needs a price override. It never panics.
func (e *Engine) Evaluate(line *CartLine) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{Outcome: OutcomeFault, Err: fmt.Errorf("%w: %v", ErrLineFault, r)}
		}
	}()

	if line == nil {
		return Decision{Outcome: OutcomeInvalidLine, Err: errors.New("nil line")}
	}
	if line.decodeErr != nil {
		return Decision{Outcome: OutcomeInvalidLine, Err: line.decodeErr}
	}
	if err := e.validate.Struct(line); err != nil {
		return Decision{Outcome: OutcomeInvalidLine, Err: err}
	}
	if _, ok := e.kinds[line.Merchandise.Typename]; !ok {
		return Decision{Outcome: OutcomeNotVariant}
	}

	var fields []*metafield.Field
	if line.Merchandise.Product != nil {
		fields = line.Merchandise.Product.Metafields
	}
	p, err := metafield.Resolve(fields, e.keys)
	if err != nil {
		return Decision{Outcome: OutcomeMalformed, Err: err}
	}

	if !p.HasSchedule {
		if p.Surcharge <= 0 {
			return Decision{Outcome: OutcomeNoPricing}
		}
		op := NewUpdate(line.ID, p.Surcharge)
		return Decision{
			Outcome:   OutcomeUpdated,
			Operation: &op,
			Quote:     pricing.Quote{Surcharge: p.Surcharge, UnitPrice: p.Surcharge},
		}
	}

	quote := pricing.Price(p.Schedule, float64(line.Quantity), p.Surcharge)
	if !quote.Changed() {
		return Decision{Outcome: OutcomeUnchanged, Quote: quote}
	}
	op := NewUpdate(line.ID, quote.UnitPrice)
	return Decision{Outcome: OutcomeUpdated, Operation: &op, Quote: quote}
}

func (e *Engine) logDecision(line *CartLine, d Decision) {
	var evt *zerolog.Event
	switch d.Outcome {
	case OutcomeFault:
		evt = e.logger.Error()
	case OutcomeMalformed, OutcomeInvalidLine:
		evt = e.logger.Warn()
	default:
		evt = e.logger.Debug()
	}
	if line != nil {
		evt = evt.Str("line_id", line.ID).Int("quantity", line.Quantity)
	}
	evt = evt.Str("outcome", string(d.Outcome))
	if d.Outcome == OutcomeUpdated || d.Outcome == OutcomeUnchanged {
		evt = evt.
			Float64("base_price", d.Quote.BasePrice).
			Float64("break_price", d.Quote.BreakPrice).
			Float64("surcharge", d.Quote.Surcharge).
			Float64("unit_price", d.Quote.UnitPrice)
	}
	if d.Err != nil {
		evt = evt.Err(d.Err)
	}
	evt.Msg("cart line evaluated")
}

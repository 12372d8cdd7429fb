// Package metafield normalises product metafields into a pricing schedule and
// surcharge. It understands the combined price-break payload, whose single
// top-level key is chosen by the merchant, and the bare surcharge amount.
package metafield

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/cart-pricebreaks/internal/pricing"
)

var (
	// ErrInvalidPayload is returned when the price-break value is not a JSON object.
	ErrInvalidPayload = errors.New("metafield: invalid price-break payload")
	// ErrMissingPricingKey is returned when the payload has no usable top-level entry.
	ErrMissingPricingKey = errors.New("metafield: missing pricing entry")
	// ErrMissingBasePrice is returned when base_price.amount is absent or empty.
	ErrMissingBasePrice = errors.New("metafield: missing base_price.amount")
	// ErrInvalidBasePrice is returned when the base price is not a finite non-negative number.
	ErrInvalidBasePrice = errors.New("metafield: invalid base price")
)

// Field is a namespaced metadata entry attached to a product.
type Field struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// Ref identifies a metafield by namespace and key.
type Ref struct {
	Namespace string
	Key       string
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.Namespace == "" && r.Key == ""
}

func (r Ref) String() string {
	return r.Namespace + "." + r.Key
}

// Keys selects the metafields that carry pricing data. A zero Surcharge ref
// disables the surcharge lookup.
type Keys struct {
	PriceBreaks Ref
	Surcharge   Ref
}

// DefaultKeys returns the storefront defaults.
func DefaultKeys() Keys {
	return Keys{
		PriceBreaks: Ref{Namespace: "custom", Key: "pricebreaks"},
		Surcharge:   Ref{Namespace: "zakeke", Key: "price"},
	}
}

// Pricing is the normalised pricing record for one product.
type Pricing struct {
	Schedule    pricing.Schedule
	HasSchedule bool
	Surcharge   float64
}

// Find returns the first field matching ref. Nil entries are ignored.
func Find(fields []*Field, ref Ref) (*Field, bool) {
	if ref.IsZero() {
		return nil, false
	}
	for _, f := range fields {
		if f != nil && f.Namespace == ref.Namespace && f.Key == ref.Key {
			return f, true
		}
	}
	return nil, false
}

// Resolve normalises the product's metafields. The surcharge is always
// populated, even when the price-break payload is malformed.
func Resolve(fields []*Field, keys Keys) (Pricing, error) {
	var out Pricing
	if f, ok := Find(fields, keys.Surcharge); ok && f.Value != "" {
		out.Surcharge = ParseSurcharge(f.Value)
	}
	f, ok := Find(fields, keys.PriceBreaks)
	if !ok || f.Value == "" {
		return out, nil
	}
	schedule, err := ParsePriceBreaks(f.Value)
	if err != nil {
		return out, err
	}
	out.Schedule = schedule
	out.HasSchedule = true
	return out, nil
}

// ParseSurcharge reads a bare surcharge amount. Unparsable, negative and
// non-finite values yield 0.
func ParseSurcharge(value string) float64 {
	v, ok := pricing.ParseAmount(value)
	if !ok || !pricing.IsFinite(v) || v < 0 {
		return 0
	}
	return v
}

// ParsePriceBreaks decodes the combined payload
//
//	{"<any key>": {"base_price": {"amount": "100"},
//	               "quantity_breaks": [{"minimum_quantity": "10", "price": {"amount": "90"}}]}}
//
// Only the first key in document order is read. This differs from
// JavaScript's Object.keys order, which lists integer-like keys such as "1"
// ahead of named ones.
func ParsePriceBreaks(value string) (pricing.Schedule, error) {
	data := []byte(value)
	if !json.Valid(data) {
		return pricing.Schedule{}, ErrInvalidPayload
	}
	entry, err := firstEntry(data)
	if err != nil {
		return pricing.Schedule{}, err
	}
	fields, ok := objectFields(entry)
	if !ok {
		return pricing.Schedule{}, ErrMissingPricingKey
	}

	base, present := amountOf(nested(fields["base_price"], "amount"))
	if !present {
		return pricing.Schedule{}, ErrMissingBasePrice
	}
	if !pricing.IsFinite(base) || base < 0 {
		return pricing.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidBasePrice, base)
	}

	return pricing.Schedule{
		BasePrice: base,
		Breaks:    parseBreaks(fields["quantity_breaks"]),
	}, nil
}

func firstEntry(data []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrInvalidPayload
	}
	if !dec.More() {
		return nil, ErrMissingPricingKey
	}
	key, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if name, _ := key.(string); name == "" {
		return nil, ErrMissingPricingKey
	}
	var entry json.RawMessage
	if err := dec.Decode(&entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return entry, nil
}

// parseBreaks degrades anything that is not an array to an empty list.
func parseBreaks(raw json.RawMessage) []pricing.Break {
	var entries []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil {
		return nil
	}
	breaks := make([]pricing.Break, 0, len(entries))
	for _, entry := range entries {
		fields, ok := objectFields(entry)
		if !ok {
			breaks = append(breaks, pricing.Break{MinimumQuantity: math.NaN(), Price: math.NaN()})
			continue
		}
		minQty, _ := amountOf(fields["minimum_quantity"])
		price, _ := amountOf(nested(fields["price"], "amount"))
		breaks = append(breaks, pricing.Break{MinimumQuantity: minQty, Price: price})
	}
	return breaks
}

func objectFields(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func nested(raw json.RawMessage, key string) json.RawMessage {
	fields, ok := objectFields(raw)
	if !ok {
		return nil
	}
	return fields[key]
}

// amountOf reads a string or number amount. present is false for missing,
// null and empty-string values; other non-numeric values are present but NaN.
func amountOf(raw json.RawMessage) (v float64, present bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return math.NaN(), false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return math.NaN(), true
		}
		if s == "" {
			return math.NaN(), false
		}
		v, _ := pricing.ParseAmount(s)
		return v, true
	case '{', '[', 't', 'f':
		return math.NaN(), true
	default:
		v, _ := pricing.ParseAmount(strings.TrimSpace(string(trimmed)))
		return v, true
	}
}

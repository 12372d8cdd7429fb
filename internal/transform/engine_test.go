package transform_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-pricebreaks/internal/metafield"
	"github.com/noah-isme/cart-pricebreaks/internal/obs"
	"github.com/noah-isme/cart-pricebreaks/internal/transform"
)

const tieredPayload = `{"tier":{"base_price":{"amount":"100"},"quantity_breaks":[` +
	`{"minimum_quantity":"10","price":{"amount":"90"}},` +
	`{"minimum_quantity":"50","price":{"amount":"80"}}]}}`

func newEngine(t *testing.T, mutate func(*transform.Config)) *transform.Engine {
	t.Helper()
	cfg := transform.Config{Keys: metafield.DefaultKeys(), Logger: zerolog.Nop()}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := transform.NewEngine(cfg)
	require.NoError(t, err)
	return engine
}

func variantLine(id string, qty int, fields ...*metafield.Field) *transform.CartLine {
	return &transform.CartLine{
		ID:       id,
		Quantity: qty,
		Merchandise: &transform.Merchandise{
			Typename: "ProductVariant",
			Product:  &transform.Product{Metafields: fields},
		},
	}
}

func breaksField(value string) *metafield.Field {
	return &metafield.Field{Namespace: "custom", Key: "pricebreaks", Value: value}
}

func surchargeField(value string) *metafield.Field {
	return &metafield.Field{Namespace: "zakeke", Key: "price", Value: value}
}

func amounts(result transform.FunctionResult) map[string]string {
	out := make(map[string]string, len(result.Operations))
	for _, op := range result.Operations {
		out[op.Update.CartLineID] = op.Update.Price.Adjustment.FixedPricePerUnit.Amount
	}
	return out
}

func TestNewEngineRequiresPriceBreakKey(t *testing.T) {
	_, err := transform.NewEngine(transform.Config{})
	require.Error(t, err)
}

func TestRunTieredPricing(t *testing.T) {
	engine := newEngine(t, nil)
	input := &transform.Input{Cart: &transform.Cart{Lines: []*transform.CartLine{
		variantLine("q5", 5, breaksField(tieredPayload), surchargeField("5")),
		variantLine("q20", 20, breaksField(tieredPayload), surchargeField("5")),
		variantLine("q60", 60, breaksField(tieredPayload), surchargeField("5")),
	}}}

	result := engine.Run(context.Background(), input)
	require.Len(t, result.Operations, 3)
	require.Equal(t, "q5", result.Operations[0].Update.CartLineID)
	require.Equal(t, "q20", result.Operations[1].Update.CartLineID)
	require.Equal(t, "q60", result.Operations[2].Update.CartLineID)
	require.Equal(t, map[string]string{"q5": "105", "q20": "95", "q60": "85"}, amounts(result))
}

func TestRunNoOverrideWhenPriceEqualsBase(t *testing.T) {
	engine := newEngine(t, nil)
	input := &transform.Input{Cart: &transform.Cart{Lines: []*transform.CartLine{
		variantLine("same", 0, breaksField(`{"tier":{"base_price":{"amount":"100"}}}`)),
	}}}
	result := engine.Run(context.Background(), input)
	require.Empty(t, result.Operations)
	require.NotNil(t, result.Operations)
}

func TestRunEmptyCarts(t *testing.T) {
	engine := newEngine(t, nil)
	for name, input := range map[string]*transform.Input{
		"nil input": nil,
		"nil cart":  {},
		"no lines":  {Cart: &transform.Cart{}},
	} {
		t.Run(name, func(t *testing.T) {
			result := engine.Run(context.Background(), input)
			require.NotNil(t, result.Operations)
			require.Empty(t, result.Operations)
		})
	}
}

func TestRunMalformedLineDoesNotBlockOthers(t *testing.T) {
	engine := newEngine(t, nil)
	input := &transform.Input{Cart: &transform.Cart{Lines: []*transform.CartLine{
		variantLine("broken", 20, breaksField(`{"tier":`)),
		nil,
		{ID: "", Quantity: 3, Merchandise: &transform.Merchandise{Typename: "ProductVariant"}},
		{ID: "no-merch", Quantity: 3},
		variantLine("good", 20, breaksField(tieredPayload)),
	}}}
	result := engine.Run(context.Background(), input)
	require.Equal(t, map[string]string{"good": "90"}, amounts(result))
}

func TestEvaluateOutcomes(t *testing.T) {
	engine := newEngine(t, nil)
	cases := []struct {
		name    string
		line    *transform.CartLine
		outcome transform.Outcome
		amount  string
	}{
		{"nil line", nil, transform.OutcomeInvalidLine, ""},
		{"missing id", &transform.CartLine{Merchandise: &transform.Merchandise{Typename: "ProductVariant"}}, transform.OutcomeInvalidLine, ""},
		{"missing merchandise", &transform.CartLine{ID: "a"}, transform.OutcomeInvalidLine, ""},
		{"custom product", &transform.CartLine{ID: "a", Quantity: 1, Merchandise: &transform.Merchandise{Typename: "CustomProduct"}}, transform.OutcomeNotVariant, ""},
		{"no product", &transform.CartLine{ID: "a", Quantity: 1, Merchandise: &transform.Merchandise{Typename: "ProductVariant"}}, transform.OutcomeNoPricing, ""},
		{"no metafields", variantLine("a", 1), transform.OutcomeNoPricing, ""},
		{"zero surcharge only", variantLine("a", 1, surchargeField("0")), transform.OutcomeNoPricing, ""},
		{"unparsable surcharge only", variantLine("a", 1, surchargeField("abc")), transform.OutcomeNoPricing, ""},
		{"surcharge only", variantLine("a", 1, surchargeField("12.5")), transform.OutcomeUpdated, "12.5"},
		{"malformed with surcharge", variantLine("a", 1, breaksField("nope"), surchargeField("4")), transform.OutcomeMalformed, ""},
		{"missing base price", variantLine("a", 1, breaksField(`{"tier":{"quantity_breaks":[]}}`)), transform.OutcomeMalformed, ""},
		{"unchanged", variantLine("a", 2, breaksField(tieredPayload)), transform.OutcomeUnchanged, ""},
		{"break applies", variantLine("a", 10, breaksField(tieredPayload)), transform.OutcomeUpdated, "90"},
		{"surcharge without break", variantLine("a", 1, breaksField(tieredPayload), surchargeField("2")), transform.OutcomeUpdated, "102"},
		{"non-array breaks", variantLine("a", 99, breaksField(`{"tier":{"base_price":{"amount":"30"},"quantity_breaks":{}}}`)), transform.OutcomeUnchanged, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := engine.Evaluate(tc.line)
			require.Equal(t, tc.outcome, d.Outcome)
			if tc.amount == "" {
				require.Nil(t, d.Operation)
				return
			}
			require.NotNil(t, d.Operation)
			require.Equal(t, tc.amount, d.Operation.Update.Price.Adjustment.FixedPricePerUnit.Amount)
		})
	}
}

func TestEvaluateSurchargeDisabled(t *testing.T) {
	engine := newEngine(t, func(cfg *transform.Config) {
		cfg.Keys = metafield.Keys{PriceBreaks: metafield.DefaultKeys().PriceBreaks}
	})
	d := engine.Evaluate(variantLine("a", 1, breaksField(tieredPayload), surchargeField("5")))
	require.Equal(t, transform.OutcomeUnchanged, d.Outcome)

	d = engine.Evaluate(variantLine("b", 1, surchargeField("5")))
	require.Equal(t, transform.OutcomeNoPricing, d.Outcome)
}

func TestEvaluateCustomMerchandiseTypes(t *testing.T) {
	engine := newEngine(t, func(cfg *transform.Config) {
		cfg.MerchandiseTypes = []string{" Bundle ", ""}
	})
	line := variantLine("a", 10, breaksField(tieredPayload))
	require.Equal(t, transform.OutcomeNotVariant, engine.Evaluate(line).Outcome)

	line.Merchandise.Typename = "Bundle"
	require.Equal(t, transform.OutcomeUpdated, engine.Evaluate(line).Outcome)
}

func TestEvaluateRecoversFromFault(t *testing.T) {
	validate := validator.New()
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		line := sl.Current().Interface().(transform.CartLine)
		if line.ID == "boom" {
			panic("exploded")
		}
	}, transform.CartLine{})
	registry := prometheus.NewRegistry()
	metrics := obs.NewPricingMetrics("test", registry)
	engine := newEngine(t, func(cfg *transform.Config) {
		cfg.Validate = validate
		cfg.Metrics = metrics
	})

	d := engine.Evaluate(variantLine("boom", 10, breaksField(tieredPayload)))
	require.Equal(t, transform.OutcomeFault, d.Outcome)
	require.ErrorIs(t, d.Err, transform.ErrLineFault)

	result := engine.Run(context.Background(), &transform.Input{Cart: &transform.Cart{Lines: []*transform.CartLine{
		variantLine("boom", 10, breaksField(tieredPayload)),
		variantLine("fine", 10, breaksField(tieredPayload)),
	}}})
	require.Equal(t, map[string]string{"fine": "90"}, amounts(result))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.LinesTotal.WithLabelValues("fault")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.LinesTotal.WithLabelValues("updated")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal))
}

func TestRunIsIdempotent(t *testing.T) {
	engine := newEngine(t, nil)
	input := &transform.Input{Cart: &transform.Cart{Lines: []*transform.CartLine{
		variantLine("a", 12, breaksField(tieredPayload), surchargeField("1.25")),
		variantLine("b", 3, surchargeField("7")),
	}}}
	first := engine.Run(context.Background(), input)
	second := engine.Run(context.Background(), input)
	require.Equal(t, first, second)
	require.Equal(t, map[string]string{"a": "91.25", "b": "7"}, amounts(first))
}

func TestRunResultEncoding(t *testing.T) {
	engine := newEngine(t, nil)
	raw := fmt.Sprintf(`{"cart":{"lines":[{"id":"gid://shopify/CartLine/1","quantity":5,
		"merchandise":{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/9",
		"product":{"id":"gid://shopify/Product/3","metafields":[
			%s,
			{"namespace":"custom","key":"pricebreaks","value":%q},
			{"namespace":"zakeke","key":"price","value":"5"}]}}}]}}`, "null", tieredPayload)

	var input transform.Input
	require.NoError(t, json.Unmarshal([]byte(raw), &input))
	out, err := json.Marshal(engine.Run(context.Background(), &input))
	require.NoError(t, err)
	require.JSONEq(t, `{"operations":[{"update":{"cartLineId":"gid://shopify/CartLine/1",
		"price":{"adjustment":{"fixedPricePerUnit":{"amount":"105"}}}}}]}`, string(out))

	empty, err := json.Marshal(engine.Run(context.Background(), &transform.Input{}))
	require.NoError(t, err)
	require.JSONEq(t, `{"operations":[]}`, string(empty))
}

func TestRunLogsSummary(t *testing.T) {
	var buf bytes.Buffer
	engine := newEngine(t, func(cfg *transform.Config) {
		cfg.Logger = obs.NewLoggerTo(&buf, "json", "debug")
	})
	engine.Run(context.Background(), &transform.Input{Cart: &transform.Cart{Lines: []*transform.CartLine{
		variantLine("a", 20, breaksField(tieredPayload)),
		variantLine("b", 1, breaksField(`{"tier":`)),
	}}})

	var summary map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "cart transform complete" {
			summary = entry
		}
	}
	require.NotNil(t, summary, buf.String())
	require.Equal(t, float64(2), summary["lines"])
	require.Equal(t, float64(1), summary["operations"])
	require.Contains(t, summary, "first_operation")
	require.Contains(t, buf.String(), `"outcome":"malformed"`)
}

func TestRunSkipsBadlyTypedLines(t *testing.T) {
	engine := newEngine(t, nil)
	good := func(id, qty string) string {
		return fmt.Sprintf(`{"id":%q,"quantity":%s,"merchandise":{"__typename":"ProductVariant","product":{"metafields":[
			{"namespace":"custom","key":"pricebreaks","value":%q}]}}}`, id, qty, tieredPayload)
	}
	raw := `{"cart":{"lines":[
		{"id":"bad-merch","quantity":20,"merchandise":"oops"},
		{"id":"bad-qty","quantity":2.5,"merchandise":{"__typename":"ProductVariant"}},
		{"id":"bad-value","quantity":20,"merchandise":{"__typename":"ProductVariant","product":{"metafields":[
			{"namespace":"custom","key":"pricebreaks","value":42}]}}},
		` + good("whole", "20") + `,
		` + good("float", "20.0") + `]}}`

	var input transform.Input
	require.NoError(t, json.Unmarshal([]byte(raw), &input))
	require.Len(t, input.Cart.Lines, 5)

	for _, line := range input.Cart.Lines[:3] {
		d := engine.Evaluate(line)
		require.Equal(t, transform.OutcomeInvalidLine, d.Outcome, line.ID)
		require.ErrorIs(t, d.Err, transform.ErrLineShape)
	}
	require.Equal(t, 20, input.Cart.Lines[4].Quantity)

	result := engine.Run(context.Background(), &input)
	require.Equal(t, map[string]string{"whole": "90", "float": "90"}, amounts(result))
}

func TestRunToleratesNonArrayLines(t *testing.T) {
	engine := newEngine(t, nil)
	for _, raw := range []string{`{"cart":{"lines":5}}`, `{"cart":"x"}`, `{"cart":{"lines":null}}`} {
		var input transform.Input
		require.NoError(t, json.Unmarshal([]byte(raw), &input), raw)
		result := engine.Run(context.Background(), &input)
		require.Empty(t, result.Operations, raw)
		require.NotNil(t, result.Operations, raw)
	}
}

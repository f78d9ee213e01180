package llm

import "context"

// WithMetering wraps a provider so every call reports its estimated cost.
// Token counts are estimated at four bytes per token; close enough for
// spend tracking, useless for billing.
func WithMetering(p Provider, record func(model string, usd float64)) Provider {
	if record == nil {
		return p
	}
	return &meteredProvider{inner: p, record: record}
}

type meteredProvider struct {
	inner  Provider
	record func(model string, usd float64)
}

func (m *meteredProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	out, err := m.inner.Generate(ctx, prompt, model, options)
	if err == nil {
		m.record(model, m.inner.CalculateCost(len(prompt)/4, len(out)/4, model))
	}
	return out, err
}

func (m *meteredProvider) CalculateCost(inputTokens, outputTokens int, model string) float64 {
	return m.inner.CalculateCost(inputTokens, outputTokens, model)
}

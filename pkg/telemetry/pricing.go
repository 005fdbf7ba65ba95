package telemetry

import "lumosai/pkg/domain"

// Pricing holds the constants of the cost estimate.
type Pricing struct {
	USDToBRL       float64 `json:"usdToBrl"`
	InputUSDPer1M  float64 `json:"inputUsdPer1M"`
	OutputUSDPer1M float64 `json:"outputUsdPer1M"`
	USDPerImage    float64 `json:"usdPerImage"`
}

type Cost struct {
	USD float64 `json:"usd"`
	BRL float64 `json:"brl"`
}

// Summary is the month-to-date usage with its estimated cost. Cost is nil
// when pricing is not configured.
type Summary struct {
	Month          string             `json:"month"`
	Usage          domain.UsageTotals `json:"usage"`
	Pricing        Pricing            `json:"pricing"`
	Cost           *Cost              `json:"cost"`
	MissingPricing bool               `json:"missingPricing"`
}

// Configured reports whether there is an exchange rate and at least one price.
func (p Pricing) Configured() bool {
	return p.USDToBRL > 0 && (p.InputUSDPer1M > 0 || p.OutputUSDPer1M > 0 || p.USDPerImage > 0)
}

// Estimate prices the given totals.
func (p Pricing) Estimate(t domain.UsageTotals) Cost {
	usd := float64(t.PromptTokens)/1e6*p.InputUSDPer1M +
		float64(t.CompletionTokens)/1e6*p.OutputUSDPer1M +
		float64(t.ImageCount)*p.USDPerImage
	return Cost{USD: usd, BRL: usd * p.USDToBRL}
}

func (p Pricing) Summarize(month string, t domain.UsageTotals) Summary {
	s := Summary{Month: month, Usage: t, Pricing: p, MissingPricing: !p.Configured()}
	if !s.MissingPricing {
		cost := p.Estimate(t)
		s.Cost = &cost
	}
	return s
}

// Package pricing is the single source of truth for purchase totals. The
// order summary, the payment step, and the contract document generator must
// all go through Calculate; keeping one implementation is what keeps their
// figures in agreement.
package pricing

import (
	"math"

	"havenhomes/pkg/domain"
)

// Breakdown itemizes a build's purchase price. Tax and Total carry exact
// fractional cents; TotalCentsRounded is the half-up figure used when an
// integer amount is charged.
type Breakdown struct {
	BaseCents         int64   `json:"baseCents"`
	OptionsCents      int64   `json:"optionsCents"`
	DeliveryFeeCents  int64   `json:"deliveryFeeCents"`
	TitleFeeCents     int64   `json:"titleFeeCents"`
	SetupFeeCents     int64   `json:"setupFeeCents"`
	SubtotalCents     int64   `json:"subtotalCents"`
	TaxRatePercent    float64 `json:"taxRatePercent"`
	TaxCents          float64 `json:"taxCents"`
	TotalCents        float64 `json:"totalCents"`
	TotalCentsRounded int64   `json:"totalCentsRounded"`
}

// Calculate computes the full price breakdown for a build under the given
// settings. Pure and deterministic: identical inputs yield identical cents.
func Calculate(b domain.Build, s domain.Settings) Breakdown {
	var options int64
	for _, opt := range b.Options {
		qty := opt.Quantity
		if qty <= 0 {
			qty = 1
		}
		options += opt.PriceCents * int64(qty)
	}
	subtotal := b.BasePriceCents + options + b.DeliveryFeeCents + s.TitleFeeDefaultCents + s.SetupFeeDefaultCents
	tax := float64(subtotal) * s.TaxRatePercent / 100.0
	total := float64(subtotal) + tax
	return Breakdown{
		BaseCents:         b.BasePriceCents,
		OptionsCents:      options,
		DeliveryFeeCents:  b.DeliveryFeeCents,
		TitleFeeCents:     s.TitleFeeDefaultCents,
		SetupFeeCents:     s.SetupFeeDefaultCents,
		SubtotalCents:     subtotal,
		TaxRatePercent:    s.TaxRatePercent,
		TaxCents:          tax,
		TotalCents:        total,
		TotalCentsRounded: roundHalfUp(total),
	}
}

// DueNowCents resolves the amount charged up front for a plan. A deposit plan
// takes its percent of the rounded total; a full plan takes all of it.
func DueNowCents(bd Breakdown, planType domain.PlanType, depositPercent int) int64 {
	if planType == domain.PlanFull {
		return bd.TotalCentsRounded
	}
	if depositPercent <= 0 || depositPercent > 100 {
		depositPercent = 100
	}
	return roundHalfUp(float64(bd.TotalCentsRounded) * float64(depositPercent) / 100.0)
}

func roundHalfUp(cents float64) int64 {
	return int64(math.Floor(cents + 0.5))
}

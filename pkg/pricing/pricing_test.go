package pricing

import (
	"testing"

	"havenhomes/pkg/domain"
)

func sampleBuild() domain.Build {
	return domain.Build{
		BasePriceCents:   80000,
		DeliveryFeeCents: 2000,
		Options: []domain.BuildOption{
			{ID: "opt-1", PriceCents: 5000, Quantity: 1},
		},
	}
}

func sampleSettings() domain.Settings {
	return domain.Settings{
		TaxRatePercent:       6.25,
		TitleFeeDefaultCents: 500,
		SetupFeeDefaultCents: 3000,
	}
}

func TestCalculateSampleScenario(t *testing.T) {
	bd := Calculate(sampleBuild(), sampleSettings())

	if bd.SubtotalCents != 90500 {
		t.Fatalf("subtotal = %d, want 90500", bd.SubtotalCents)
	}
	if bd.TaxCents != 5656.25 {
		t.Fatalf("tax = %v, want 5656.25", bd.TaxCents)
	}
	if bd.TotalCents != 96156.25 {
		t.Fatalf("total = %v, want 96156.25", bd.TotalCents)
	}
	if bd.TotalCentsRounded != 96156 {
		t.Fatalf("rounded total = %d, want 96156", bd.TotalCentsRounded)
	}
}

func TestCalculateDeterministic(t *testing.T) {
	build := sampleBuild()
	settings := sampleSettings()
	first := Calculate(build, settings)
	second := Calculate(build, settings)
	if first != second {
		t.Fatalf("repeated calls disagree: %+v vs %+v", first, second)
	}
}

func TestCalculateOptionQuantities(t *testing.T) {
	build := sampleBuild()
	build.Options = []domain.BuildOption{
		{ID: "opt-1", PriceCents: 1000, Quantity: 3},
		{ID: "opt-2", PriceCents: 250, Quantity: 0}, // zero treated as one
	}
	bd := Calculate(build, sampleSettings())
	if bd.OptionsCents != 3250 {
		t.Fatalf("options = %d, want 3250", bd.OptionsCents)
	}
}

func TestDueNowCents(t *testing.T) {
	bd := Calculate(sampleBuild(), sampleSettings())

	if got := DueNowCents(bd, domain.PlanFull, 25); got != bd.TotalCentsRounded {
		t.Fatalf("full plan due = %d, want %d", got, bd.TotalCentsRounded)
	}
	if got := DueNowCents(bd, domain.PlanDeposit, 25); got != 24039 {
		// 96156 * 0.25 = 24039
		t.Fatalf("deposit due = %d, want 24039", got)
	}
	if got := DueNowCents(bd, domain.PlanDeposit, 0); got != bd.TotalCentsRounded {
		t.Fatalf("invalid percent should fall back to full amount, got %d", got)
	}
}

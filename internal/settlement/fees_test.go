package settlement

import (
	"math"
	"math/rand"
	"testing"
)

func TestComputeBreakdown_LiteralScenarioWithCreator(t *testing.T) {
	// price 10.00, platform 2%, royalty 2.5% -> 9.55 / 0.20 / 0.25
	price, _ := ParseAmount("10.00", DefaultDecimals)
	b, err := ComputeBreakdown(price, DefaultRates(), true)
	if err != nil {
		t.Fatalf("ComputeBreakdown() error: %v", err)
	}

	if got, want := FormatAmount(b.SellerAmount, DefaultDecimals), "9.55"; got != want {
		t.Errorf("seller = %s, want %s", got, want)
	}
	if got, want := FormatAmount(b.PlatformFee, DefaultDecimals), "0.2"; got != want {
		t.Errorf("platform fee = %s, want %s", got, want)
	}
	if got, want := FormatAmount(b.CreatorRoyalty, DefaultDecimals), "0.25"; got != want {
		t.Errorf("royalty = %s, want %s", got, want)
	}
	if b.Total != price {
		t.Errorf("total = %d, want %d", b.Total, price)
	}
}

func TestComputeBreakdown_LiteralScenarioNoCreator(t *testing.T) {
	// price 10.00, no creator -> 9.80 / 0.20 / 0
	price, _ := ParseAmount("10.00", DefaultDecimals)
	b, err := ComputeBreakdown(price, DefaultRates(), false)
	if err != nil {
		t.Fatalf("ComputeBreakdown() error: %v", err)
	}

	if got, want := FormatAmount(b.SellerAmount, DefaultDecimals), "9.8"; got != want {
		t.Errorf("seller = %s, want %s", got, want)
	}
	if got, want := FormatAmount(b.PlatformFee, DefaultDecimals), "0.2"; got != want {
		t.Errorf("platform fee = %s, want %s", got, want)
	}
	if b.CreatorRoyalty != 0 {
		t.Errorf("royalty = %d, want 0", b.CreatorRoyalty)
	}
}

func TestComputeBreakdown_ConservationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	prices := []int64{1, 2, 3, 7, 9999, 10000, 10001, 123456789, math.MaxInt64}
	for i := 0; i < 2000; i++ {
		prices = append(prices, 1+rng.Int63())
	}

	rates := []Rates{
		DefaultRates(),
		{PlatformBps: 1, RoyaltyBps: 1},
		{PlatformBps: 0, RoyaltyBps: 9999},
		{PlatformBps: 4999, RoyaltyBps: 4999},
	}

	for _, r := range rates {
		for _, price := range prices {
			for _, hasCreator := range []bool{true, false} {
				b, err := ComputeBreakdown(price, r, hasCreator)
				if err != nil {
					t.Fatalf("ComputeBreakdown(%d, %+v) error: %v", price, r, err)
				}
				if sum := b.SellerAmount + b.PlatformFee + b.CreatorRoyalty; sum != price {
					t.Fatalf("conservation violated: %d+%d+%d = %d, want %d (rates %+v)",
						b.SellerAmount, b.PlatformFee, b.CreatorRoyalty, sum, price, r)
				}
				if b.SellerAmount < 0 || b.PlatformFee < 0 || b.CreatorRoyalty < 0 {
					t.Fatalf("negative part in %+v for price %d", b, price)
				}
				if !hasCreator && b.CreatorRoyalty != 0 {
					t.Fatalf("royalty = %d without creator", b.CreatorRoyalty)
				}
			}
		}
	}
}

func TestComputeBreakdown_RejectsInvalidInput(t *testing.T) {
	if _, err := ComputeBreakdown(0, DefaultRates(), true); KindOf(err) != KindInvalidRequest {
		t.Errorf("zero price: kind = %s, want %s", KindOf(err), KindInvalidRequest)
	}
	if _, err := ComputeBreakdown(-5, DefaultRates(), true); err == nil {
		t.Error("negative price should fail")
	}
	if _, err := ComputeBreakdown(100, Rates{PlatformBps: 9000, RoyaltyBps: 2000}, true); err == nil {
		t.Error("rates above 100% should fail")
	}
	if _, err := ComputeBreakdown(100, Rates{PlatformBps: -1}, true); err == nil {
		t.Error("negative rate should fail")
	}
}

func TestMulBps_FloorsAndSurvivesLargeAmounts(t *testing.T) {
	// 33 * 1% = 0.33, floors to 0 minor units at the smallest scale.
	if got := mulBps(33, 100); got != 0 {
		t.Errorf("mulBps(33, 100) = %d, want 0", got)
	}
	// Max int64 at 100% must come back exactly.
	if got := mulBps(math.MaxInt64, bpsDenominator-1); got <= 0 {
		t.Errorf("mulBps overflowed: %d", got)
	}
	if got := mulBps(math.MaxInt64, 0); got != 0 {
		t.Errorf("mulBps(max, 0) = %d, want 0", got)
	}
}

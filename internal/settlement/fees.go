package settlement

import "fmt"

// bpsDenominator: rates are expressed in basis points.
const bpsDenominator = 10_000

// Rates holds the platform's fixed fee rates in basis points.
type Rates struct {
	// PlatformBps is the platform commission, e.g. 200 for 2%.
	PlatformBps int64 `json:"platform_bps"`
	// RoyaltyBps is the original-creator royalty, e.g. 250 for 2.5%.
	// Applied only when the purchase names a creator account.
	RoyaltyBps int64 `json:"royalty_bps"`
}

// DefaultRates returns the marketplace defaults: 2% platform commission,
// 2.5% creator royalty.
func DefaultRates() Rates {
	return Rates{PlatformBps: 200, RoyaltyBps: 250}
}

// Validate checks the rates are sane: non-negative and summing below 100%.
func (r Rates) Validate() error {
	if r.PlatformBps < 0 || r.RoyaltyBps < 0 {
		return fmt.Errorf("negative fee rate")
	}
	if r.PlatformBps+r.RoyaltyBps >= bpsDenominator {
		return fmt.Errorf("fee rates consume the whole price: %d+%d bps", r.PlatformBps, r.RoyaltyBps)
	}
	return nil
}

// Breakdown is the three-way split of a purchase price, in minor units.
// SellerAmount + PlatformFee + CreatorRoyalty always equals Total exactly.
type Breakdown struct {
	SellerAmount   int64 `json:"seller_amount"`
	PlatformFee    int64 `json:"platform_fee"`
	CreatorRoyalty int64 `json:"creator_royalty"`
	Total          int64 `json:"total"`
}

// mulBps computes floor(amount * bps / 10000) without overflowing for any
// int64 amount, by splitting amount into quotient and remainder by the
// denominator.
func mulBps(amount, bps int64) int64 {
	q := amount / bpsDenominator
	r := amount % bpsDenominator
	return q*bps + r*bps/bpsDenominator
}

// ComputeBreakdown splits price into seller, platform, and creator parts.
// Both fee terms floor; the remainder stays with the seller, so the three
// parts always reassemble the price exactly down to the smallest unit.
func ComputeBreakdown(price int64, rates Rates, hasCreator bool) (Breakdown, error) {
	if price <= 0 {
		return Breakdown{}, NewError(KindInvalidRequest, "price must be positive")
	}
	if err := rates.Validate(); err != nil {
		return Breakdown{}, WrapError(KindInvalidRequest, "invalid rates", err)
	}

	platformFee := mulBps(price, rates.PlatformBps)
	var royalty int64
	if hasCreator {
		royalty = mulBps(price, rates.RoyaltyBps)
	}

	return Breakdown{
		SellerAmount:   price - platformFee - royalty,
		PlatformFee:    platformFee,
		CreatorRoyalty: royalty,
		Total:          price,
	}, nil
}

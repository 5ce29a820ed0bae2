package affiliate

import "github.com/shopspring/decimal"

type tierThreshold struct {
	MinReferrals   int
	MinCommission  decimal.Decimal
	ConversionRate decimal.Decimal
}

var (
	commissionRates = map[Tier]decimal.Decimal{
		TierStandard: decimal.RequireFromString("0.10"),
		TierSilver:   decimal.RequireFromString("0.15"),
		TierGold:     decimal.RequireFromString("0.20"),
		TierPlatinum: decimal.RequireFromString("0.25"),
	}

	tierThresholds = map[Tier]tierThreshold{
		TierSilver: {
			MinReferrals:   10,
			MinCommission:  decimal.RequireFromString("1000.00"),
			ConversionRate: decimal.RequireFromString("0.05"),
		},
		TierGold: {
			MinReferrals:   50,
			MinCommission:  decimal.RequireFromString("5000.00"),
			ConversionRate: decimal.RequireFromString("0.10"),
		},
		TierPlatinum: {
			MinReferrals:   200,
			MinCommission:  decimal.RequireFromString("20000.00"),
			ConversionRate: decimal.RequireFromString("0.15"),
		},
	}

	tierBenefits = map[Tier][]string{
		TierStandard: {"10% commission rate", "Affiliate dashboard access"},
		TierSilver:   {"15% commission rate", "Priority support", "Early access to new features"},
		TierGold:     {"20% commission rate", "Dedicated account manager", "Co-marketing opportunities"},
		TierPlatinum: {"25% commission rate", "Custom commission negotiations", "Quarterly strategy sessions"},
	}

	// tierOrder runs from lowest to highest.
	tierOrder = []Tier{TierStandard, TierSilver, TierGold, TierPlatinum}
)

// CommissionRate returns the default rate for tier.
func CommissionRate(tier Tier) decimal.Decimal {
	if rate, ok := commissionRates[tier]; ok {
		return rate
	}
	return commissionRates[TierStandard]
}

func (t Tier) rank() int {
	for i, candidate := range tierOrder {
		if candidate == t {
			return i
		}
	}
	return -1
}

func (t Tier) Valid() bool {
	return t.rank() >= 0
}

// EvaluateTier returns the highest tier whose referral, commission and
// conversion thresholds are all met by the profile.
func EvaluateTier(p Profile) Tier {
	earned := p.LifetimeEarnings()
	conversion := p.ConversionRate()
	best := TierStandard
	for _, tier := range tierOrder[1:] {
		th := tierThresholds[tier]
		if p.TotalReferrals >= th.MinReferrals &&
			earned.GreaterThanOrEqual(th.MinCommission) &&
			conversion.GreaterThanOrEqual(th.ConversionRate) {
			best = tier
		}
	}
	return best
}

type TierInfo struct {
	Tier          Tier            `json:"tier"`
	Rate          decimal.Decimal `json:"rate"`
	MinReferrals  int             `json:"min_referrals"`
	MinCommission decimal.Decimal `json:"min_commission"`
	MinConversion decimal.Decimal `json:"min_conversion_rate"`
	Benefits      []string        `json:"benefits"`
}

// Tiers lists every tier from standard to platinum.
func Tiers() []TierInfo {
	items := make([]TierInfo, 0, len(tierOrder))
	for _, tier := range tierOrder {
		th := tierThresholds[tier]
		items = append(items, TierInfo{
			Tier:          tier,
			Rate:          commissionRates[tier],
			MinReferrals:  th.MinReferrals,
			MinCommission: th.MinCommission,
			MinConversion: th.ConversionRate,
			Benefits:      append([]string(nil), tierBenefits[tier]...),
		})
	}
	return items
}

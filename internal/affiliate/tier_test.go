package affiliate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateTier(t *testing.T) {
	cases := []struct {
		name      string
		referrals int
		converted int
		earned    string
		want      Tier
	}{
		{"new affiliate", 0, 0, "0", TierStandard},
		{"silver", 10, 1, "1000", TierSilver},
		{"silver needs conversion", 40, 1, "1500", TierStandard},
		{"gold", 50, 5, "5000.00", TierGold},
		{"gold referrals but silver earnings", 60, 30, "1200", TierSilver},
		{"platinum", 200, 30, "20000", TierPlatinum},
		{"platinum short on conversion", 250, 30, "25000", TierGold},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Profile{
				TotalReferrals:   tc.referrals,
				ActiveReferrals:  tc.converted,
				TotalCommissions: decimal.RequireFromString(tc.earned),
			}
			assert.Equal(t, tc.want, EvaluateTier(p))
		})
	}
}

func TestTiers(t *testing.T) {
	tiers := Tiers()
	if assert.Len(t, tiers, 4) {
		assert.Equal(t, TierStandard, tiers[0].Tier)
		assert.Equal(t, TierPlatinum, tiers[3].Tier)
		assert.True(t, tiers[1].Rate.Equal(decimal.RequireFromString("0.15")))
		assert.Equal(t, 50, tiers[2].MinReferrals)
		assert.NotEmpty(t, tiers[3].Benefits)
	}
	assert.True(t, CommissionRate("unknown").Equal(decimal.RequireFromString("0.10")))
}

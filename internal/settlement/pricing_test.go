package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-settler/internal/domain"
)

func testStages() []domain.Stage {
	return []domain.Stage{
		{Name: "stage-2", CapUSD: decimal.NewFromInt(1_000_000), RatePerUSD: decimal.NewFromInt(80), BonusBps: 1000},
		{Name: "stage-1", CapUSD: decimal.NewFromInt(250_000), RatePerUSD: decimal.NewFromInt(100), BonusBps: 2500},
	}
}

func TestPricing_ActiveStage(t *testing.T) {
	p, err := NewPricing(testStages(), DefaultSizeTiers)
	require.NoError(t, err)

	assert.Equal(t, "stage-1", p.ActiveStage(decimal.Zero).Name)
	assert.Equal(t, "stage-1", p.ActiveStage(decimal.RequireFromString("249999.99")).Name)
	assert.Equal(t, "stage-2", p.ActiveStage(decimal.NewFromInt(250_000)).Name)
	assert.Equal(t, "stage-2", p.ActiveStage(decimal.NewFromInt(5_000_000)).Name)
}

func TestPricing_SizeBonus(t *testing.T) {
	p, err := NewPricing(testStages(), DefaultSizeTiers)
	require.NoError(t, err)

	cases := map[string]int64{"0": 0, "99.99": 0, "100": 500, "499": 500, "500": 1000, "1000": 1500, "4999.999": 1500, "5000": 2000}
	for usd, want := range cases {
		assert.Equal(t, want, p.SizeBonusBps(decimal.RequireFromString(usd)), usd)
	}
}

func TestPricing_CreditFormula(t *testing.T) {
	p, err := NewPricing(testStages(), DefaultSizeTiers)
	require.NoError(t, err)

	for _, raw := range []string{"0", "1", "35", "100", "4999.999"} {
		usd := decimal.RequireFromString(raw)
		c := p.Credit(usd, decimal.Zero)

		stage := p.ActiveStage(decimal.Zero)
		base := usd.Mul(stage.RatePerUSD).Floor().IntPart()
		bps := stage.BonusBps + p.SizeBonusBps(usd)

		assert.GreaterOrEqual(t, bps, int64(0), raw)
		assert.Equal(t, base, c.Base, raw)
		assert.Equal(t, base*bps/10_000, c.Bonus, raw)
		assert.Equal(t, c.Base+c.Bonus, c.Tokens, raw)
		assert.GreaterOrEqual(t, c.Tokens, int64(0), raw)
	}
}

func TestPricing_CreditValues(t *testing.T) {
	p, err := NewPricing(testStages(), DefaultSizeTiers)
	require.NoError(t, err)

	// $35 at stage-1: base 3500, bonus 25% -> 875.
	c := p.Credit(decimal.NewFromInt(35), decimal.Zero)
	assert.Equal(t, int64(3500), c.Base)
	assert.Equal(t, int64(875), c.Bonus)
	assert.Equal(t, int64(4375), c.Tokens)
	assert.Equal(t, "stage-1", c.Stage)

	// $4999.999 at stage-1: base floor(499999.9) = 499999, bps 2500+1500.
	c = p.Credit(decimal.RequireFromString("4999.999"), decimal.Zero)
	assert.Equal(t, int64(499999), c.Base)
	assert.Equal(t, int64(199999), c.Bonus)

	// $100 once stage-1 is sold out: rate 80, bps 1000+500.
	c = p.Credit(decimal.NewFromInt(100), decimal.NewFromInt(300_000))
	assert.Equal(t, int64(8000), c.Base)
	assert.Equal(t, int64(1200), c.Bonus)
}

func TestNewPricing_Validation(t *testing.T) {
	_, err := NewPricing(nil, nil)
	assert.ErrorIs(t, err, ErrNoStages)

	_, err = NewPricing([]domain.Stage{{Name: "bad", CapUSD: decimal.NewFromInt(1), BonusBps: -1}}, nil)
	assert.Error(t, err)
}

package settlement

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"presale-settler/internal/domain"
)

const bpsDenominator = 10_000

// DefaultSizeTiers are the size bonuses applied when none are configured.
var DefaultSizeTiers = []domain.SizeBonusTier{
	{MinUSD: decimal.NewFromInt(100), BonusBps: 500},
	{MinUSD: decimal.NewFromInt(500), BonusBps: 1000},
	{MinUSD: decimal.NewFromInt(1000), BonusBps: 1500},
	{MinUSD: decimal.NewFromInt(5000), BonusBps: 2000},
}

// ErrNoStages is returned by NewPricing when no stage is configured.
var ErrNoStages = errors.New("pricing: at least one stage is required")

// Pricing computes reward tokens from stage rates and bonuses.
type Pricing struct {
	stages []domain.Stage
	tiers  []domain.SizeBonusTier
}

// Credit is the computed reward for one purchase.
type Credit struct {
	Stage    string
	Base     int64
	Bonus    int64
	BonusBps int64
	Tokens   int64 // Base + Bonus
}

// NewPricing validates and orders stages by cap and tiers by threshold.
func NewPricing(stages []domain.Stage, tiers []domain.SizeBonusTier) (*Pricing, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	for _, s := range stages {
		if s.RatePerUSD.IsNegative() || s.BonusBps < 0 {
			return nil, errors.New("pricing: negative rate or bonus in stage " + s.Name)
		}
	}
	for _, t := range tiers {
		if t.BonusBps < 0 {
			return nil, errors.New("pricing: negative size bonus")
		}
	}

	p := &Pricing{
		stages: append([]domain.Stage(nil), stages...),
		tiers:  append([]domain.SizeBonusTier(nil), tiers...),
	}
	sort.SliceStable(p.stages, func(i, j int) bool { return p.stages[i].CapUSD.LessThan(p.stages[j].CapUSD) })
	sort.SliceStable(p.tiers, func(i, j int) bool { return p.tiers[i].MinUSD.LessThan(p.tiers[j].MinUSD) })
	return p, nil
}

// ActiveStage returns the first stage whose cap exceeds totalRaised,
// or the last stage once every cap is reached.
func (p *Pricing) ActiveStage(totalRaised decimal.Decimal) domain.Stage {
	for _, s := range p.stages {
		if totalRaised.LessThan(s.CapUSD) {
			return s
		}
	}
	return p.stages[len(p.stages)-1]
}

// SizeBonusBps returns the bonus of the highest tier usd reaches.
func (p *Pricing) SizeBonusBps(usd decimal.Decimal) int64 {
	var bps int64
	for _, t := range p.tiers {
		if usd.GreaterThanOrEqual(t.MinUSD) {
			bps = t.BonusBps
		}
	}
	return bps
}

// Credit computes tokens for a purchase of usd given totalRaised so far:
// base = floor(usd * rate), bonus = floor(base * bps / 10000).
func (p *Pricing) Credit(usd, totalRaised decimal.Decimal) Credit {
	stage := p.ActiveStage(totalRaised)
	if usd.IsNegative() {
		usd = decimal.Zero
	}

	base := usd.Mul(stage.RatePerUSD).Floor().IntPart()
	bps := stage.BonusBps + p.SizeBonusBps(usd)
	bonus := base * bps / bpsDenominator

	return Credit{
		Stage:    stage.Name,
		Base:     base,
		Bonus:    bonus,
		BonusBps: bps,
		Tokens:   base + bonus,
	}
}

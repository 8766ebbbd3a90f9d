package settlement

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"presale-settler/internal/domain"
)

// PriceSource returns the spot USD price of one unit of native currency.
type PriceSource interface {
	SpotUSD(ctx context.Context) (decimal.Decimal, error)
}

// Resolution is the resolved value of a payment.
type Resolution struct {
	Currency     string // domain.CryptoTypeSOL or domain.CryptoTypeUSDC
	CryptoAmount decimal.Decimal
	USDAmount    decimal.Decimal
	Edge         domain.TransferEdge // edge the amount was taken from
}

// AmountConfig configures an AmountResolver.
type AmountConfig struct {
	StableMint   string // credited 1:1 in USD
	DustLamports uint64 // native edges below this are ignored
}

// AmountResolver values transfer edges in USD.
type AmountResolver struct {
	cfg    AmountConfig
	prices PriceSource
	logger *zap.Logger
}

// NewAmountResolver creates a resolver.
func NewAmountResolver(cfg AmountConfig, prices PriceSource, logger *zap.Logger) *AmountResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AmountResolver{cfg: cfg, prices: prices, logger: logger.Named("amount")}
}

// Resolve values edge. When it cannot, any other stablecoin edge of n with
// the same destination is tried. ok is false when nothing resolves.
func (r *AmountResolver) Resolve(ctx context.Context, edge domain.TransferEdge, n *domain.Notification) (Resolution, bool) {
	if res, ok := r.resolveEdge(ctx, edge); ok {
		return res, true
	}
	if n == nil {
		return Resolution{}, false
	}
	for _, alt := range n.TokenTransfers {
		if alt == edge || alt.Mint != r.cfg.StableMint || alt.Destination != edge.Destination {
			continue
		}
		if res, ok := r.resolveEdge(ctx, alt); ok {
			r.logger.Debug("resolved amount from fallback stablecoin edge",
				zap.String("signature", n.Signature))
			return res, true
		}
	}
	return Resolution{}, false
}

func (r *AmountResolver) resolveEdge(ctx context.Context, edge domain.TransferEdge) (Resolution, bool) {
	switch {
	case edge.Mint != "" && edge.Mint == r.cfg.StableMint:
		amt := edge.Amount()
		if !amt.IsPositive() {
			return Resolution{}, false
		}
		return Resolution{Currency: domain.CryptoTypeUSDC, CryptoAmount: amt, USDAmount: amt, Edge: edge}, true

	case edge.IsNative():
		if edge.Raw == 0 || edge.Raw < r.cfg.DustLamports {
			return Resolution{}, false
		}
		if r.prices == nil {
			return Resolution{}, false
		}
		price, err := r.prices.SpotUSD(ctx)
		if err != nil || !price.IsPositive() {
			r.logger.Warn("spot price unavailable, native amount unresolved", zap.Error(err))
			return Resolution{}, false
		}
		native := edge
		native.Decimals = domain.NativeDecimals
		sol := native.Amount()
		return Resolution{
			Currency:     domain.CryptoTypeSOL,
			CryptoAmount: sol,
			USDAmount:    sol.Mul(price).RoundDown(6),
			Edge:         native,
		}, true

	default:
		return Resolution{}, false
	}
}

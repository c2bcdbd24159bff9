package fees

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vortex-ramp/internal/model"
	"vortex-ramp/internal/storage"
)

// DefaultPartnerName is the platform's own partner row, present for every
// ramp direction. Lookups that resolve no partner degrade to it.
const DefaultPartnerName = "vortex"

// Discount is the transient result of fee resolution, attached during quote
// pricing and persisted only inside the quote's fee breakdown.
type Discount struct {
	Applied   bool
	Rate      decimal.Decimal
	PartnerID string
}

// Resolver computes per-ramp discounts and payout routing from the partner
// table.
type Resolver struct {
	partners storage.PartnerStore
	logger   zerolog.Logger
}

// NewResolver builds a fee/discount resolver.
func NewResolver(partners storage.PartnerStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		logger:   logger.With().Str("component", "fee_resolver").Logger(),
		partners: partners,
	}
}

// ResolveDiscount resolves the applicable discount for a ramp. A partner id
// that matches no active row for this direction degrades to the default
// partner rather than erroring; a missing default yields a zero discount.
func (r *Resolver) ResolveDiscount(ctx context.Context, partnerID *string, rampType model.RampDirection) (Discount, error) {
	if partnerID != nil && *partnerID != "" {
		partner, err := r.partners.GetPartnerByID(ctx, *partnerID, rampType)
		if err == nil {
			return discountFor(partner), nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return Discount{}, fmt.Errorf("resolve partner %s: %w", *partnerID, err)
		}
		r.logger.Debug().Str("partner_id", *partnerID).Str("ramp_type", string(rampType)).
			Msg("partner inactive or missing for direction; using default")
	}

	partner, err := r.partners.GetPartnerByName(ctx, DefaultPartnerName, rampType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Discount{Rate: decimal.Zero}, nil
		}
		return Discount{}, fmt.Errorf("resolve default partner: %w", err)
	}
	return discountFor(partner), nil
}

// PayoutRouting returns the platform payout address and, when configured,
// the quote partner's payout address for the settlement chain. A partner
// without an address on that chain yields an empty string; callers omit the
// markup leg rather than failing.
func (r *Resolver) PayoutRouting(ctx context.Context, quote *model.Quote) (platform, partner string, err error) {
	network := quote.SettlementNetwork()

	platformPartner, err := r.partners.GetPartnerByName(ctx, DefaultPartnerName, quote.RampType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("resolve platform payout: %w", err)
	}
	platform, _ = platformPartner.PayoutAddress(network)

	if quote.PartnerID != nil && *quote.PartnerID != "" {
		quotePartner, err := r.partners.GetPartnerByID(ctx, *quote.PartnerID, quote.RampType)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return "", "", fmt.Errorf("resolve partner payout: %w", err)
			}
		} else {
			partner, _ = quotePartner.PayoutAddress(network)
		}
	}

	return platform, partner, nil
}

func discountFor(partner *model.Partner) Discount {
	return Discount{
		Applied:   partner.DiscountRate.IsPositive(),
		PartnerID: partner.ID,
		Rate:      partner.DiscountRate,
	}
}

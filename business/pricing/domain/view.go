package domain

import (
	"strings"

	"github.com/fd1az/pricestream/internal/asset"
)

// PoolView is the wire form of a PricedPool. Big numbers travel as decimal
// strings and addresses are lower-cased.
type PoolView struct {
	Venue           string  `json:"venue"`
	Pool            string  `json:"pool"`
	Liquidity       string  `json:"liquidity"`
	LiquidityUnit   string  `json:"liquidityUnit"`
	Rate            string  `json:"rate"`
	Price           string  `json:"price,omitempty"`
	ReferenceToken  string  `json:"referenceToken"`
	ReferenceSymbol string  `json:"referenceSymbol"`
	FeeTier         *uint32 `json:"feeTier,omitempty"`
}

// View renders p. When refDecimals is known, Price carries the rate scaled
// to whole reference tokens.
func (p PricedPool) View(refDecimals *uint8) PoolView {
	v := PoolView{
		Venue:           p.Venue,
		Pool:            strings.ToLower(p.Pool.Hex()),
		Liquidity:       p.Liquidity.String(),
		LiquidityUnit:   string(p.LiquidityUnit),
		ReferenceToken:  strings.ToLower(p.ReferenceToken.Hex()),
		ReferenceSymbol: p.ReferenceSymbol,
		FeeTier:         p.FeeTier,
	}
	if p.Rate != nil {
		v.Rate = p.Rate.String()
		if refDecimals != nil {
			v.Price = asset.FormatUnits(p.Rate, *refDecimals).String()
		}
	}
	return v
}

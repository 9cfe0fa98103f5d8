package dexindex

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// tokenPairsResponse is the body of GET /latest/dex/tokens/{address}.
type tokenPairsResponse struct {
	SchemaVersion string      `json:"schemaVersion"`
	Pairs         []indexPair `json:"pairs"`
}

type indexPair struct {
	ChainID     string          `json:"chainId"`
	DexID       string          `json:"dexId"`
	Labels      []string        `json:"labels"`
	PairAddress string          `json:"pairAddress"`
	BaseToken   indexToken      `json:"baseToken"`
	QuoteToken  indexToken      `json:"quoteToken"`
	Liquidity   *indexLiquidity `json:"liquidity"`
}

type indexToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type indexLiquidity struct {
	USD decimal.Decimal `json:"usd"`
}

func (p indexPair) liquidityUSD() decimal.Decimal {
	if p.Liquidity == nil {
		return decimal.Zero
	}
	return p.Liquidity.USD
}

func (p indexPair) hasLabel(label string) bool {
	for _, l := range p.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// holds reports whether token is one side of the pair.
func (p indexPair) holds(token common.Address) bool {
	return sameAddress(p.BaseToken.Address, token) || sameAddress(p.QuoteToken.Address, token)
}

func sameAddress(s string, addr common.Address) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) == addr
}

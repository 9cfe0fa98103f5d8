// Package asset models ERC-20 tokens on a single chain. Identity is the
// contract address; symbol and name are display metadata only.
// The core uses big.Int for exact on-chain representation and
// decimal.Decimal only at display boundaries.
package asset

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxDecimals guards against garbage decimals() responses.
const MaxDecimals = 36

// Asset is the metadata of an ERC-20 token.
type Asset struct {
	address  common.Address
	symbol   string
	name     string
	decimals uint8
}

// NewAsset creates a new Asset.
func NewAsset(addr common.Address, symbol string, decimals uint8) *Asset {
	if decimals > MaxDecimals {
		panic("asset: suspicious decimals")
	}
	if symbol == "" {
		symbol = shortAddress(addr)
	}

	return &Asset{
		address:  addr,
		symbol:   symbol,
		decimals: decimals,
	}
}

// NewAssetWithName creates a new Asset with a human-readable name.
func NewAssetWithName(addr common.Address, symbol, name string, decimals uint8) *Asset {
	a := NewAsset(addr, symbol, decimals)
	a.name = name
	return a
}

// Address returns the token contract address.
func (a *Asset) Address() common.Address {
	return a.address
}

// Key returns the lower-cased hex address used as a map key everywhere.
func (a *Asset) Key() string {
	return Key(a.address)
}

// Symbol returns the ticker symbol (e.g., "WETH", "USDC").
func (a *Asset) Symbol() string {
	return a.symbol
}

// Name returns the human-readable name, falling back to the symbol.
func (a *Asset) Name() string {
	if a.name == "" {
		return a.symbol
	}
	return a.name
}

// Decimals returns the number of decimal places.
func (a *Asset) Decimals() uint8 {
	return a.decimals
}

// One returns one whole token in smallest units (10^decimals).
func (a *Asset) One() *big.Int {
	return Pow10(a.decimals)
}

// String returns the symbol.
func (a *Asset) String() string {
	return a.symbol
}

// Key normalizes an address to its lower-case hex form.
func Key(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Pow10 returns 10^n as a new big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func shortAddress(addr common.Address) string {
	return addr.Hex()[:8]
}

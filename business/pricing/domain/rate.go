package domain

import (
	"errors"
	"math/big"
)

// ErrDegenerateState is returned when pool state cannot produce a rate:
// zero reserves, a zero square-root price or a result that rounds to zero.
var ErrDegenerateState = errors.New("pricing: degenerate pool state")

// q192 is 2^192, the scale of a squared Q64.96 value.
var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ConcentratedRate converts a Q64.96 square-root price into reference
// smallest units per one whole target token.
//
// sqrtPriceX96² / 2^192 is the raw token1-per-token0 ratio. With
// targetIsToken0 the reference is token1 and the ratio is scaled by
// 10^dec0; otherwise it is inverted and scaled by 10^dec1.
func ConcentratedRate(sqrtPriceX96 *big.Int, dec0, dec1 uint8, targetIsToken0 bool) (*big.Int, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return nil, ErrDegenerateState
	}

	priceSq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)

	var rate *big.Int
	if targetIsToken0 {
		rate = new(big.Int).Mul(priceSq, pow10(dec0))
		rate.Quo(rate, q192)
	} else {
		rate = new(big.Int).Mul(q192, pow10(dec1))
		rate.Quo(rate, priceSq)
	}

	if rate.Sign() == 0 {
		return nil, ErrDegenerateState
	}
	return rate, nil
}

// ConstantProductRate derives the rate from x*y=k reserves.
func ConstantProductRate(reserve0, reserve1 *big.Int, dec0, dec1 uint8, targetIsToken0 bool) (*big.Int, error) {
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() <= 0 || reserve1.Sign() <= 0 {
		return nil, ErrDegenerateState
	}

	var rate *big.Int
	if targetIsToken0 {
		rate = new(big.Int).Mul(reserve1, pow10(dec0))
		rate.Quo(rate, reserve0)
	} else {
		rate = new(big.Int).Mul(reserve0, pow10(dec1))
		rate.Quo(rate, reserve1)
	}

	if rate.Sign() == 0 {
		return nil, ErrDegenerateState
	}
	return rate, nil
}

// PairLiquidity is the geometric mean of the reserves, sqrt(reserve0*reserve1).
// It is the same native unit a concentrated pool reports from liquidity().
func PairLiquidity(reserve0, reserve1 *big.Int) *big.Int {
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() <= 0 || reserve1.Sign() <= 0 {
		return new(big.Int)
	}
	k := new(big.Int).Mul(reserve0, reserve1)
	return k.Sqrt(k)
}

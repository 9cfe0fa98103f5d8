package onchain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Fee tiers in hundredths of a bip.
const (
	FeeTier001 = 100   // 0.01%
	FeeTier005 = 500   // 0.05%
	FeeTier025 = 2500  // 0.25%, PancakeSwap v3
	FeeTier030 = 3000  // 0.30%
	FeeTier100 = 10000 // 1.00%
)

// ConcentratedPoolABI covers the Uniswap V3 pool reads. feeProtocol is
// declared wider than uint8 so PancakeSwap v3's uint32 also decodes.
const ConcentratedPoolABI = `[
	{"inputs": [], "name": "token0", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "token1", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "liquidity", "outputs": [{"type": "uint128"}], "stateMutability": "view", "type": "function"},
	{
		"inputs": [],
		"name": "slot0",
		"outputs": [
			{"name": "sqrtPriceX96", "type": "uint160"},
			{"name": "tick", "type": "int24"},
			{"name": "observationIndex", "type": "uint16"},
			{"name": "observationCardinality", "type": "uint16"},
			{"name": "observationCardinalityNext", "type": "uint16"},
			{"name": "feeProtocol", "type": "uint32"},
			{"name": "unlocked", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ConstantProductPairABI covers the Uniswap V2 pair reads.
const ConstantProductPairABI = `[
	{"inputs": [], "name": "token0", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "token1", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
	{
		"inputs": [],
		"name": "getReserves",
		"outputs": [
			{"name": "reserve0", "type": "uint112"},
			{"name": "reserve1", "type": "uint112"},
			{"name": "blockTimestampLast", "type": "uint32"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ConcentratedFactoryABI is getPool on a V3 factory.
const ConcentratedFactoryABI = `[
	{
		"inputs": [
			{"name": "tokenA", "type": "address"},
			{"name": "tokenB", "type": "address"},
			{"name": "fee", "type": "uint24"}
		],
		"name": "getPool",
		"outputs": [{"name": "pool", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ConstantProductFactoryABI is getPair on a V2 factory.
const ConstantProductFactoryABI = `[
	{
		"inputs": [
			{"name": "tokenA", "type": "address"},
			{"name": "tokenB", "type": "address"}
		],
		"name": "getPair",
		"outputs": [{"name": "pair", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ERC20ABI reads token metadata with string symbol and name.
const ERC20ABI = `[
	{"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

// ERC20Bytes32ABI is the legacy layout (MKR and friends) returning bytes32.
const ERC20Bytes32ABI = `[
	{"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

// contracts holds the parsed ABIs.
type contracts struct {
	v3Pool     abi.ABI
	v2Pair     abi.ABI
	v3Factory  abi.ABI
	v2Factory  abi.ABI
	erc20      abi.ABI
	erc20Bytes abi.ABI
}

func parseContracts() (*contracts, error) {
	var c contracts
	for _, def := range []struct {
		name string
		json string
		dst  *abi.ABI
	}{
		{"concentrated pool", ConcentratedPoolABI, &c.v3Pool},
		{"constant product pair", ConstantProductPairABI, &c.v2Pair},
		{"concentrated factory", ConcentratedFactoryABI, &c.v3Factory},
		{"constant product factory", ConstantProductFactoryABI, &c.v2Factory},
		{"erc20", ERC20ABI, &c.erc20},
		{"erc20 bytes32", ERC20Bytes32ABI, &c.erc20Bytes},
	} {
		parsed, err := abi.JSON(strings.NewReader(def.json))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s ABI: %w", def.name, err)
		}
		*def.dst = parsed
	}
	return &c, nil
}

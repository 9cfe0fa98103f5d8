package asset

import "github.com/ethereum/go-ethereum/common"

// Chain IDs
const (
	ChainIDEthereum = 1
	ChainIDArbitrum = 42161
	ChainIDOptimism = 10
	ChainIDBase     = 8453
)

// Well-known token addresses on Ethereum Mainnet
var (
	AddrUSDCEthereum = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	AddrUSDTEthereum = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	AddrDAIEthereum  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	AddrWETHEthereum = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	AddrWBTCEthereum = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
)

// Well-known tokens (pre-created instances)
var (
	USDC = NewAssetWithName(AddrUSDCEthereum, "USDC", "USD Coin", 6)
	USDT = NewAssetWithName(AddrUSDTEthereum, "USDT", "Tether USD", 6)
	DAI  = NewAssetWithName(AddrDAIEthereum, "DAI", "Dai Stablecoin", 18)
	WETH = NewAssetWithName(AddrWETHEthereum, "WETH", "Wrapped Ether", 18)
	WBTC = NewAssetWithName(AddrWBTCEthereum, "WBTC", "Wrapped BTC", 8)
)

// DefaultRegistry returns a registry pre-populated with well-known tokens.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Put(USDC)
	r.Put(USDT)
	r.Put(DAI)
	r.Put(WETH)
	r.Put(WBTC)

	return r
}

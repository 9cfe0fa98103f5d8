package asset_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/pricestream/internal/asset"
)

func TestAmount_Basic(t *testing.T) {
	oneWETH := asset.NewAmount(asset.WETH, big.NewInt(1e18))

	if oneWETH.IsZero() {
		t.Error("expected non-zero amount")
	}
	if !oneWETH.ToDecimal().Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1, got %s", oneWETH.ToDecimal().String())
	}
	if oneWETH.String() != "1 WETH" {
		t.Errorf("expected '1 WETH', got '%s'", oneWETH.String())
	}
}

func TestAmount_RawIsCopied(t *testing.T) {
	raw := big.NewInt(42)
	amt := asset.NewAmount(asset.USDC, raw)
	raw.SetInt64(7)

	if amt.Raw().Int64() != 42 {
		t.Fatalf("amount mutated through caller's big.Int: %s", amt.Raw())
	}
}

func TestAmount_StringFixed(t *testing.T) {
	// 3012.5 USDC
	amt := asset.NewAmount(asset.USDC, big.NewInt(3_012_500_000))

	if got := amt.StringFixed(2); got != "3012.50 USDC" {
		t.Errorf("got %q", got)
	}
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		raw      string
		decimals uint8
		want     string
	}{
		{"1000000", 6, "1"},
		{"123456789", 8, "1.23456789"},
		{"1", 18, "0.000000000000000001"},
		{"0", 18, "0"},
	}

	for _, tt := range tests {
		raw, _ := new(big.Int).SetString(tt.raw, 10)
		got := asset.FormatUnits(raw, tt.decimals)
		want := decimal.RequireFromString(tt.want)
		if !got.Equal(want) {
			t.Errorf("FormatUnits(%s, %d) = %s, want %s", tt.raw, tt.decimals, got, want)
		}
	}
}

func TestParseString(t *testing.T) {
	amt, err := asset.ParseString(asset.WBTC, "0.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amt.Raw().Int64() != 50_000_000 {
		t.Errorf("raw = %s", amt.Raw())
	}

	if _, err := asset.ParseString(asset.USDC, "1.0000001"); err == nil {
		t.Error("expected too many decimals error")
	}
	if _, err := asset.ParseString(asset.USDC, "-1"); err == nil {
		t.Error("expected negative amount error")
	}
	if _, err := asset.ParseString(asset.USDC, "abc"); err == nil {
		t.Error("expected parse error")
	}
}

func TestRegistry(t *testing.T) {
	r := asset.DefaultRegistry()

	weth, ok := r.Get(asset.AddrWETHEthereum)
	if !ok || weth.Decimals() != 18 {
		t.Fatalf("WETH lookup = %v, %v", weth, ok)
	}
	if weth.Key() != "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2" {
		t.Errorf("key = %s", weth.Key())
	}

	// Put replaces metadata for the same address.
	r.Put(asset.NewAssetWithName(asset.AddrWETHEthereum, "WETH9", "Wrapped Ether", 18))
	if got := r.GetBySymbol("WETH"); len(got) != 0 {
		t.Errorf("stale symbol index: %v", got)
	}
	if got := r.GetBySymbol("WETH9"); len(got) != 1 {
		t.Errorf("symbol index = %v", got)
	}

	unknown := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if _, ok := r.Get(unknown); ok {
		t.Error("unexpected hit for unknown address")
	}
}

func TestNewAsset_FallsBackToShortAddress(t *testing.T) {
	a := asset.NewAsset(common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"), "", 18)
	if a.Symbol() != "0x123456" {
		t.Errorf("symbol = %q", a.Symbol())
	}
	if a.One().String() != "1000000000000000000" {
		t.Errorf("one = %s", a.One())
	}
}

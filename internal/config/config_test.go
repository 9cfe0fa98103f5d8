package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithEnv(t *testing.T) {
	t.Setenv("PRICESTREAM_ETH_HTTP_URL", "http://localhost:8545")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Ethereum.HTTPURL != "http://localhost:8545" {
		t.Errorf("http url = %q", cfg.Ethereum.HTTPURL)
	}
	if cfg.Stream.RefreshInterval != 15*time.Second {
		t.Errorf("refresh interval = %v", cfg.Stream.RefreshInterval)
	}
	if cfg.Index.MaxPools != 5 {
		t.Errorf("max pools = %d", cfg.Index.MaxPools)
	}
	if cfg.Pricing.NativeWrapped != "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2" {
		t.Errorf("native wrapped not normalized: %s", cfg.Pricing.NativeWrapped)
	}

	v3, ok := cfg.Pricing.Venue("uniswap-v3")
	if !ok {
		t.Fatal("uniswap-v3 venue missing")
	}
	if v3.Kind != KindConcentrated || len(v3.FeeTiers) != 4 {
		t.Errorf("uniswap-v3 = %+v", v3)
	}
	if len(cfg.Stream.SeedTokens) == 0 || cfg.Stream.SeedTokens[0].Decimals != 18 {
		t.Errorf("seed tokens = %+v", cfg.Stream.SeedTokens)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
ethereum:
  http_url: http://node:8545
index:
  enabled: false
stream:
  refresh_interval: 3s
  seed_tokens:
    - address: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
      symbol: DAI
      decimals: 18
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Index.Enabled {
		t.Error("index should be disabled")
	}
	if cfg.Stream.RefreshInterval != 3*time.Second {
		t.Errorf("refresh interval = %v", cfg.Stream.RefreshInterval)
	}
	if len(cfg.Stream.SeedTokens) != 1 || cfg.Stream.SeedTokens[0].Address != "0x6b175474e89094c44da98b954eedeac495271d0f" {
		t.Errorf("seed tokens = %+v", cfg.Stream.SeedTokens)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Ethereum: EthereumConfig{HTTPURL: "http://x", CallTimeout: time.Second},
			Pricing: PricingConfig{
				NativeWrapped:   "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
				ReferenceTokens: []string{"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
				MajorVenues:     []string{"v2"},
				Venues: []VenueConfig{
					{ID: "v2", Kind: KindConstantProduct, Factory: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"},
				},
			},
			Stream: StreamConfig{RefreshInterval: time.Second, SessionBuffer: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing http url", func(c *Config) { c.Ethereum.HTTPURL = "" }, true},
		{"native not in references", func(c *Config) { c.Pricing.ReferenceTokens = nil }, true},
		{"unknown venue kind", func(c *Config) { c.Pricing.Venues[0].Kind = "orderbook" }, true},
		{"concentrated without tiers", func(c *Config) { c.Pricing.Venues[0].Kind = KindConcentrated }, true},
		{"major venue not configured", func(c *Config) { c.Pricing.MajorVenues = []string{"nope"} }, true},
		{"index without url", func(c *Config) { c.Index = IndexConfig{Enabled: true, MaxPools: 1} }, true},
		{"bad seed", func(c *Config) { c.Stream.SeedTokens = []SeedToken{{Address: "nope"}} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if c.Strategy.Active != "ensemble" || c.Risk.Mode != "advanced" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if len(c.Universe) == 0 {
		t.Fatalf("default universe must not be empty")
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ecotrader.yaml")
	body := []byte(`
trading:
  capital: 50000
  intervalSec: 600
strategy:
  active: mean_reversion
universe:
  - symbol: INRG
    exchange: LSE
    currency: GBP
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Trading.Capital != 50000 || c.Trading.IntervalSec != 600 {
		t.Fatalf("yaml must override trading settings: %+v", c.Trading)
	}
	if c.Strategy.Active != "mean_reversion" {
		t.Fatalf("yaml must override strategy: %s", c.Strategy.Active)
	}
	if len(c.Universe) != 1 || c.Universe[0].Symbol != "INRG" {
		t.Fatalf("yaml must replace the universe: %+v", c.Universe)
	}
	// Untouched sections keep their defaults.
	if c.Risk.MaxPositions != 3 {
		t.Fatalf("risk defaults must survive, got %+v", c.Risk)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("ECOTRADER_TRADING_CAPITAL", "250000")
	t.Setenv("ECOTRADER_STRATEGY_ACTIVE", "volatility")
	t.Setenv("ECOTRADER_UNIVERSE_SYMBOLS", "INRG, WATL")

	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Trading.Capital != 250000 {
		t.Fatalf("env must override capital, got %.0f", c.Trading.Capital)
	}
	if c.Strategy.Active != "volatility" {
		t.Fatalf("env must override strategy, got %s", c.Strategy.Active)
	}
	if len(c.Universe) != 2 || c.Universe[1].Symbol != "WATL" {
		t.Fatalf("env must replace the universe, got %+v", c.Universe)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := Default()
	c.Strategy.Active = "momentum"
	if err := c.Validate(); err == nil {
		t.Fatalf("unknown strategy must fail validation")
	}

	c = Default()
	c.Trading.StopLossPct = 1.5
	if err := c.Validate(); err == nil {
		t.Fatalf("stop loss above 1 must fail validation")
	}

	c = Default()
	c.Strategy.SMALong = 3
	if err := c.Validate(); err == nil {
		t.Fatalf("smaLong <= smaShort must fail validation")
	}

	c = Default()
	c.Universe = nil
	if err := c.Validate(); err == nil {
		t.Fatalf("empty universe must fail validation")
	}
}

func TestSymbolsAndInstruments(t *testing.T) {
	c := Default()
	c.Universe = []Instrument{{Symbol: "INRG", Exchange: "LSE", Currency: "GBP"}}
	if got := c.Symbols(); len(got) != 1 || got[0] != "INRG" {
		t.Fatalf("unexpected symbols: %v", got)
	}
	inst := c.Instruments()
	if inst[0].Exchange != "LSE" || inst[0].Currency != "GBP" {
		t.Fatalf("unexpected instruments: %+v", inst)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

func TestLoadPlanDefaults(t *testing.T) {
	cfg, err := LoadPlan("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Factory != DefaultFactory || cfg.PositionManager != DefaultPositionManager {
		t.Fatalf("unexpected contract defaults %+v", cfg)
	}
	if cfg.MaxIterations != 100 || cfg.RatioTolerance != "1000000000000" || cfg.MaxFeedAge != time.Hour {
		t.Fatalf("unexpected solver defaults %+v", cfg)
	}
	if len(cfg.Feeds) != 0 {
		t.Fatalf("expected no feeds, got %v", cfg.Feeds)
	}
}

func TestLoadPlanPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	content := []byte(`rpc: http://file:8545
position: "42"
tick-lower: -600
tick-upper: 600
max-retries: 2
feeds:
  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48": "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REBALANCER_MAX_RETRIES", "7")

	flags := pflag.NewFlagSet("plan", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Int("max-retries", 5, "")
	if err := flags.Parse([]string{"--rpc", "http://flag:8545"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadPlan(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://flag:8545" {
		t.Fatalf("flag should win, got %s", cfg.RPCURL)
	}
	if cfg.MaxRetries != 7 {
		t.Fatalf("env should beat the config file, got %d", cfg.MaxRetries)
	}
	if cfg.PositionID != "42" || cfg.TickLower != -600 || cfg.TickUpper != 600 {
		t.Fatalf("unexpected position settings %+v", cfg)
	}

	feeds, err := ParseFeeds(cfg.Feeds)
	if err != nil {
		t.Fatalf("feeds: %v", err)
	}
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	if feeds[usdc] != common.HexToAddress("0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6") {
		t.Fatalf("unexpected feeds %v", feeds)
	}
}

func TestLoadPlanMissingFile(t *testing.T) {
	if _, err := LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for an explicit missing config file")
	}
}

func TestLoadSimulateAndInitiator(t *testing.T) {
	t.Setenv("REBALANCER_SCENARIO", "./scenario.json")
	sim, err := LoadSimulate("", nil)
	if err != nil {
		t.Fatalf("load simulate: %v", err)
	}
	if sim.Scenario != "./scenario.json" || sim.Out != "./data/rebalances.jsonl" || sim.MaxSlippageRatio != "990000000000000000" {
		t.Fatalf("unexpected simulate config %+v", sim)
	}

	flags := pflag.NewFlagSet("authorize", pflag.ContinueOnError)
	flags.Bool("revoke", false, "")
	if err := flags.Parse([]string{"--revoke"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	ic, err := LoadInitiator("", flags)
	if err != nil {
		t.Fatalf("load initiator: %v", err)
	}
	if !ic.Revoke || ic.MaxTolerance != "100000000000000000" || ic.MaxFee != "50000000000000000" {
		t.Fatalf("unexpected initiator config %+v", ic)
	}
}

func TestParseHelpers(t *testing.T) {
	if _, err := ParseAddress("owner", ""); err == nil {
		t.Fatalf("expected required error")
	}
	if _, err := ParseAddress("owner", "0x123"); err == nil {
		t.Fatalf("expected invalid address error")
	}
	if _, err := ParseAmount("fee", "-1"); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
	amount, err := ParseAmount("fee", " 1000 ")
	if err != nil || amount.Uint64() != 1000 {
		t.Fatalf("amount %v (%v)", amount, err)
	}
	if _, err := ParsePositionID("abc"); err == nil {
		t.Fatalf("expected invalid id error")
	}
	id, err := ParsePositionID("123456789012345678901234567890")
	if err != nil || id.String() != "123456789012345678901234567890" {
		t.Fatalf("id %v (%v)", id, err)
	}

	pairs := parseStringMap("a=b, c = d,broken,=x")
	if len(pairs) != 2 || pairs["a"] != "b" || pairs["c"] != "d" {
		t.Fatalf("unexpected pairs %v", pairs)
	}
}

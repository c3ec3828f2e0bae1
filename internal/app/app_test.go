package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/digimarket/marketcore/pkg/config"
	"github.com/digimarket/marketcore/pkg/db/dbtest"
	"github.com/digimarket/marketcore/pkg/logger"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Checkout.Currency = "usd"
	cfg.Settlement.BatchSize = 100
	cfg.Loyalty.Tiers = []string{"bronze:0:0", "gold:500:5"}
	return cfg
}

func TestBuildRequiresConfigAndDB(t *testing.T) {
	if _, err := Build(Params{}); err == nil {
		t.Fatalf("expected error without config")
	}
	if _, err := Build(Params{Config: testConfig()}); err == nil {
		t.Fatalf("expected error without db")
	}
}

func TestBuildRejectsBadLoyaltyTiers(t *testing.T) {
	client, _ := dbtest.Open(t)
	cfg := testConfig()
	cfg.Loyalty.Tiers = []string{"broken"}
	if _, err := Build(Params{Config: cfg, DB: client}); err == nil {
		t.Fatalf("expected tier parse error")
	}
}

func TestBuildWiresServicesWithoutRedis(t *testing.T) {
	client, conn := dbtest.Open(t)
	svcs, err := Build(Params{
		Config:     testConfig(),
		Logger:     logger.Nop(),
		DB:         client,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if svcs.Checkout == nil || svcs.Refunds == nil || svcs.Settlement == nil || svcs.Fulfillments == nil {
		t.Fatalf("expected every service to be wired: %+v", svcs)
	}

	wallet := dbtest.SeedWallet(t, conn, 42, "10.00")
	found, err := svcs.Ledger.ForUser(context.Background(), nil, 42)
	if err != nil {
		t.Fatalf("wallet for user: %v", err)
	}
	if found.ID != wallet.ID || found.Currency != "USD" {
		t.Fatalf("unexpected wallet %+v", found)
	}

	summary, err := svcs.Settlement.Run(context.Background())
	if err != nil {
		t.Fatalf("settlement run on empty ledger: %v", err)
	}
	if summary == nil {
		t.Fatalf("expected summary")
	}
}

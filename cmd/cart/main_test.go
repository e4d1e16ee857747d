package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wyfcoding/jewelrycart/pkg/config"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestRunReturnsStartupErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "bad tax rate", mutate: func(c *config.Config) { c.Checkout.TaxRate = "twelve" }, wantErr: "checkout.tax_rate"},
		{name: "bad shipping fee", mutate: func(c *config.Config) { c.Checkout.ShippingFee = "" }, wantErr: "checkout.shipping_fee"},
		{name: "unreachable mysql", mutate: func(c *config.Config) {
			c.Cart.Backend = config.BackendMySQL
			c.Database.DSN = "u:p@tcp(127.0.0.1:1)/cart?timeout=200ms"
		}, wantErr: "init mysql store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadTestConfig(t)
			tt.mutate(cfg)
			err := run(context.Background(), cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewDurableStoreMemory(t *testing.T) {
	ctx := context.Background()
	cfg := loadTestConfig(t)

	store, rdb, closeStore, err := newDurableStore(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore()
	if rdb != nil {
		t.Error("memory backend returned a redis client")
	}
	if err := store.Set(ctx, "cart_guest", []byte("[]")); err != nil {
		t.Fatal(err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

package config

import (
	"strings"
	"testing"
)

func TestValidateProductionRequiresAtLeastOneNetwork(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Networks = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when no networks are configured")
	}
	if !strings.Contains(err.Error(), "at least one network") {
		t.Fatalf("expected network validation error, got: %v", err)
	}
}

func TestValidateRejectsNetworkMissingEscrowAddress(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Networks[0].EscrowAddress = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "missing an escrow address") {
		t.Fatalf("expected escrow address validation error, got: %v", err)
	}
}

func TestValidateRejectsNonCAIP2NetworkID(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Networks[0].ID = "base"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "not a valid CAIP-2") {
		t.Fatalf("expected CAIP-2 validation error, got: %v", err)
	}
}

func TestValidateRequiresOperatorWalletInProduction(t *testing.T) {
	t.Setenv("FACILITATOR_PRIVATE_KEY", "")
	cfg := validProductionConfig()
	cfg.KMS = KMSConfig{}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "operator wallet must be configured") {
		t.Fatalf("expected operator wallet validation error, got: %v", err)
	}
}

func TestValidateDevelopmentPassesWithoutNetworks(t *testing.T) {
	cfg := &Config{
		Environment: EnvDevelopment,
		Database:    DatabaseConfig{Password: "db-password"},
		Auth:        AuthConfig{JWTSecret: strings.Repeat("a", 32)},
		Dashboard:   DashboardConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected validation to pass in development without networks, got: %v", err)
	}
}

func TestLoadNetworksParsesPerNetworkEnvVars(t *testing.T) {
	t.Setenv("NETWORKS", "eip155:8453")
	t.Setenv("NETWORK_EIP155_8453_RPC_URL", "https://mainnet.base.org")
	t.Setenv("NETWORK_EIP155_8453_ESCROW_ADDRESS", "0xESCROW")
	t.Setenv("NETWORK_EIP155_8453_TOKEN_ADDRESS", "0xTOKEN")

	networks := loadNetworks()
	if len(networks) != 1 {
		t.Fatalf("expected 1 network, got %d", len(networks))
	}
	n := networks[0]
	if n.ID != "eip155:8453" || n.ChainID != 8453 {
		t.Fatalf("unexpected network id/chain id: %+v", n)
	}
	if n.RPCURL != "https://mainnet.base.org" {
		t.Fatalf("unexpected RPC URL: %q", n.RPCURL)
	}
	if n.EscrowAddress != "0xescrow" {
		t.Fatalf("expected lowercased escrow address, got %q", n.EscrowAddress)
	}
}

func TestNetworkByIDSkipsInactive(t *testing.T) {
	cfg := &Config{Networks: []NetworkConfig{
		{ID: "eip155:8453", Active: false},
		{ID: "eip155:84532", Active: true},
	}}

	if cfg.NetworkByID("eip155:8453") != nil {
		t.Fatal("expected inactive network to be excluded")
	}
	if cfg.NetworkByID("eip155:84532") == nil {
		t.Fatal("expected active network to be found")
	}
}

func validProductionConfig() *Config {
	return &Config{
		Environment: EnvProduction,
		Database:    DatabaseConfig{Password: "db-password"},
		Auth:        AuthConfig{JWTSecret: strings.Repeat("a", 32)},
		Dashboard:   DashboardConfig{AllowedOrigins: []string{"https://dashboard.example.com"}},
		CronSecret:  "cron-secret",
		Networks: []NetworkConfig{
			{
				ID:            "eip155:8453",
				ChainID:       8453,
				RPCURL:        "https://mainnet.base.org",
				EscrowAddress: "0xescrow",
				TokenAddress:  "0xtoken",
				Active:        true,
			},
		},
		KMS: KMSConfig{
			Region: "us-east-1",
			KeyID:  "alias/facilitator-operator-key",
		},
	}
}

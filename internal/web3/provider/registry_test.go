package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"Web3-Sentinel/internal/config"
	"Web3-Sentinel/internal/web3"
)

type stubClient struct {
	web3.Client
	closed bool
}

func (s *stubClient) Close() { s.closed = true }

func TestNewRegistryWithoutChains(t *testing.T) {
	registry, err := NewRegistry(context.Background(), config.Web3Config{})
	if err != nil || registry != nil {
		t.Fatalf("expected no registry without chains, got %v %v", registry, err)
	}
}

func TestNewRegistryFromDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := "chains:\n  sepolia:\n    rpc_url: http://127.0.0.1:8545\n  mainnet:\n    rpc_url: http://127.0.0.1:8546\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}

	registry, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path, DefaultChain: "sepolia"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	if got := registry.Chains(); len(got) != 2 || got[0] != "mainnet" {
		t.Fatalf("unexpected chains %v", got)
	}
	if _, err := registry.DefaultClient(); err != nil {
		t.Fatalf("default client: %v", err)
	}
}

func TestNewRegistryRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte("chains:\n  sol:\n    type: solana\n    rpc_url: http://127.0.0.1:8899\n"), 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}
	if _, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path}); err == nil {
		t.Fatal("expected unsupported chain type to fail")
	}
}

func TestStaticRegistryDefaultsToFirstName(t *testing.T) {
	a, b := &stubClient{}, &stubClient{}
	registry, err := NewStaticRegistry("", map[string]web3.Client{"zeta": a, "alpha": b})
	if err != nil {
		t.Fatalf("static registry: %v", err)
	}
	client, err := registry.DefaultClient()
	if err != nil || client != b {
		t.Fatalf("expected alpha to be default, got %v %v", client, err)
	}
	if _, err := NewStaticRegistry("missing", map[string]web3.Client{"alpha": b}); err == nil {
		t.Fatal("expected unknown default chain to fail")
	}

	registry.Close()
	if !a.closed || !b.closed {
		t.Fatal("close should release every client")
	}
}

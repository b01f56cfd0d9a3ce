package web3

import "context"

// ChainSnapshot represents summarized network metadata for reports.
type ChainSnapshot struct {
	Chain       string `json:"chain,omitempty"`
	ChainID     string `json:"chainId"`
	BlockNumber string `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the read-only chain access the agents rely on. Every
// implementation must honour ctx cancellation on network calls.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ExecuteAction(ctx context.Context, action, address string) (string, error)
	CodeAt(ctx context.Context, address string) ([]byte, error)
	Close()
}

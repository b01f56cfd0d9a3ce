package ethereum

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
)

const testAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers a fixed set of JSON-RPC methods.
type fakeNode struct {
	mu      sync.Mutex
	methods []string
	results map[string]any
	fail    map[string]string
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.methods = append(n.methods, req.Method)
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if msg, ok := n.fail[req.Method]; ok {
		resp["error"] = map[string]any{"code": -32000, "message": msg}
	} else if result, ok := n.results[req.Method]; ok {
		resp["result"] = result
	} else {
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newFakeClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := NewClient(ctx, Config{Name: "local", RPCURL: server.URL, Notes: "fake node"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestFetchChainSnapshot(t *testing.T) {
	client := newFakeClient(t, &fakeNode{results: map[string]any{
		"eth_chainId":     "0x539",
		"eth_blockNumber": "0x10",
	}})

	snapshot, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" || snapshot.BlockNumber != "0x10" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Chain != "local" || snapshot.Notes != "fake node" {
		t.Fatalf("metadata not propagated: %+v", snapshot)
	}
}

func TestCodeAtAndActions(t *testing.T) {
	node := &fakeNode{results: map[string]any{
		"eth_getCode":             "0x6080604052f1",
		"eth_getBalance":          "0xde0b6b3a7640000",
		"eth_getTransactionCount": "0x7",
	}}
	client := newFakeClient(t, node)
	ctx := context.Background()

	code, err := client.CodeAt(ctx, testAddress)
	if err != nil {
		t.Fatalf("code at: %v", err)
	}
	if len(code) != 6 || code[5] != 0xf1 {
		t.Fatalf("unexpected bytecode %x", code)
	}

	balance, err := client.ExecuteAction(ctx, "eth_getBalance", testAddress)
	if err != nil || balance != "0xde0b6b3a7640000" {
		t.Fatalf("unexpected balance %s %v", balance, err)
	}
	nonce, err := client.ExecuteAction(ctx, "eth_getTransactionCount", testAddress)
	if err != nil || nonce != "0x7" {
		t.Fatalf("unexpected nonce %s %v", nonce, err)
	}
	hexCode, err := client.ExecuteAction(ctx, "eth_getCode", testAddress)
	if err != nil || hexCode != "0x6080604052f1" {
		t.Fatalf("unexpected code %s %v", hexCode, err)
	}
}

func TestActionValidation(t *testing.T) {
	client := newFakeClient(t, &fakeNode{})
	ctx := context.Background()

	if _, err := client.ExecuteAction(ctx, "", testAddress); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty action, got %v", err)
	}
	if _, err := client.ExecuteAction(ctx, "eth_sendTransaction", testAddress); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected unsupported action error, got %v", err)
	}
	if _, err := client.CodeAt(ctx, "0xnot-an-address"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid address error, got %v", err)
	}
}

func TestUpstreamFailureIsRetryable(t *testing.T) {
	client := newFakeClient(t, &fakeNode{fail: map[string]string{"eth_getCode": "header not found"}})

	_, err := client.CodeAt(context.Background(), testAddress)
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("upstream failures should be retryable")
	}
	if !strings.Contains(err.Error(), "header not found") {
		t.Fatalf("node error should be preserved: %v", err)
	}
}

func TestClosedClient(t *testing.T) {
	client := newFakeClient(t, &fakeNode{})
	client.Close()
	if _, err := client.FetchChainSnapshot(context.Background()); err == nil {
		t.Fatal("expected closed client to fail")
	}
}

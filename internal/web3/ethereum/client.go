package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	mu        sync.RWMutex
}

var errClosed = xerrors.New(xerrors.CodeInitializationFailure, "以太坊客户端已关闭")

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "连接以太坊节点失败")
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Name returns the chain name the client was configured with.
func (c *Client) Name() string { return c.name }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
	}
	c.eth = nil
	c.rpcClient = nil
}

func (c *Client) backend() (*ethclient.Client, error) {
	if c == nil {
		return nil, errClosed
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.eth == nil {
		return nil, errClosed
	}
	return c.eth, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	eth, err := c.backend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, upstream(err, "获取链 ID 失败")
	}
	blockNumber, err := eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, upstream(err, "获取最新区块高度失败")
	}
	return web3.ChainSnapshot{
		Chain:       c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// CodeAt returns the runtime bytecode deployed at address on the latest block.
func (c *Client) CodeAt(ctx context.Context, address string) ([]byte, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	code, err := eth.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, upstream(err, "读取合约字节码失败")
	}
	return code, nil
}

// ExecuteAction runs small helper RPC calls for the agent layer.
func (c *Client) ExecuteAction(ctx context.Context, action, address string) (string, error) {
	eth, err := c.backend()
	if err != nil {
		return "", err
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "链上操作不能为空")
	}

	switch action {
	case "eth_getBalance":
		addr, err := parseAddress(address)
		if err != nil {
			return "", err
		}
		balance, err := eth.BalanceAt(ctx, addr, nil)
		if err != nil {
			return "", upstream(err, "查询余额失败")
		}
		return toHexBig(balance), nil
	case "eth_getTransactionCount":
		addr, err := parseAddress(address)
		if err != nil {
			return "", err
		}
		nonce, err := eth.PendingNonceAt(ctx, addr)
		if err != nil {
			return "", upstream(err, "查询交易计数失败")
		}
		return fmt.Sprintf("0x%x", nonce), nil
	case "eth_getCode":
		addr, err := parseAddress(address)
		if err != nil {
			return "", err
		}
		code, err := eth.CodeAt(ctx, addr, nil)
		if err != nil {
			return "", upstream(err, "读取合约字节码失败")
		}
		return hexutil.Encode(code), nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("暂不支持的链上操作: %s", action))
	}
}

func parseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("无效的地址: %q", address))
	}
	return common.HexToAddress(address), nil
}

func upstream(err error, message string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return xerrors.FromContext(err, message)
	}
	return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, message)
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)

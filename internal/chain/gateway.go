package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrMailboxNotOnChain 合约上不存在该邮箱记录
var ErrMailboxNotOnChain = errors.New("mailbox not found on chain")

// Backend 定义网关依赖的节点 RPC 能力，ethclient.Client 天然满足。
type Backend interface {
	ethereum.LogFilterer
	ethereum.ContractCaller
	BlockNumber(ctx context.Context) (uint64, error)
}

// OnChainMailbox 是 getMailbox 视图方法的解码结果。
type OnChainMailbox struct {
	Owner         string
	MailboxID     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Duration      int64 // 合约侧购买时长（秒）
	PaymentMethod string
	Active        bool
}

// Gateway 封装对 EmailService 合约的只读访问。
type Gateway struct {
	backend  Backend
	contract common.Address
	abi      abi.ABI
	log      *zap.Logger
}

// NewGateway 创建合约网关
func NewGateway(backend Backend, contractAddress string, log *zap.Logger) *Gateway {
	return &Gateway{
		backend:  backend,
		contract: common.HexToAddress(contractAddress),
		abi:      mustParseABI(),
		log:      log,
	}
}

// GetMailbox 读取合约侧邮箱元数据。
func (g *Gateway) GetMailbox(ctx context.Context, mailboxID string) (*OnChainMailbox, error) {
	data, err := g.abi.Pack("getMailbox", mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getMailbox call: %w", err)
	}

	output, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getMailbox call failed: %w", err)
	}

	vals, err := g.abi.Unpack("getMailbox", output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getMailbox result: %w", err)
	}
	if len(vals) != 7 {
		return nil, fmt.Errorf("unexpected getMailbox result arity: %d", len(vals))
	}

	owner := vals[0].(common.Address)
	if owner == (common.Address{}) {
		return nil, ErrMailboxNotOnChain
	}

	return &OnChainMailbox{
		Owner:         owner.Hex(),
		MailboxID:     vals[1].(string),
		CreatedAt:     time.Unix(vals[2].(*big.Int).Int64(), 0).UTC(),
		ExpiresAt:     time.Unix(vals[3].(*big.Int).Int64(), 0).UTC(),
		Duration:      vals[4].(*big.Int).Int64(),
		PaymentMethod: vals[5].(string),
		Active:        vals[6].(bool),
	}, nil
}

// IsMailboxActive 查询合约侧的邮箱激活状态。
//
// 该读数仅作参考，调用方在 RPC 失败时应降级为 false 而非报错。
func (g *Gateway) IsMailboxActive(ctx context.Context, mailboxID string) (bool, error) {
	data, err := g.abi.Pack("isMailboxActive", mailboxID)
	if err != nil {
		return false, fmt.Errorf("failed to pack isMailboxActive call: %w", err)
	}

	output, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.contract, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("isMailboxActive call failed: %w", err)
	}

	vals, err := g.abi.Unpack("isMailboxActive", output)
	if err != nil || len(vals) != 1 {
		return false, fmt.Errorf("failed to unpack isMailboxActive result: %w", err)
	}
	return vals[0].(bool), nil
}

// CurrentBlock 返回链上最新区块号。
func (g *Gateway) CurrentBlock(ctx context.Context) (uint64, error) {
	return g.backend.BlockNumber(ctx)
}

// purchaseFilter 构造 EmailPurchased 事件的日志过滤条件。
func (g *Gateway) purchaseFilter(fromBlock, toBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{g.contract},
		Topics:    [][]common.Hash{{g.abi.Events["EmailPurchased"].ID}},
		FromBlock: fromBlock,
		ToBlock:   toBlock,
	}
}

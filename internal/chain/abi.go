package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
)

// emailServiceABI 是 EmailService 合约的最小 ABI：
// 只包含本服务消费的购买事件与两个只读方法。
const emailServiceABI = `[
  {"type":"event","name":"EmailPurchased","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":true},
    {"name":"mailboxId","type":"string","indexed":false},
    {"name":"email","type":"string","indexed":false},
    {"name":"expiresAt","type":"uint256","indexed":false},
    {"name":"paymentMethod","type":"string","indexed":false}]},
  {"type":"function","name":"getMailbox","stateMutability":"view","inputs":[
    {"name":"mailboxId","type":"string"}],"outputs":[
    {"name":"owner","type":"address"},
    {"name":"mailboxId","type":"string"},
    {"name":"createdAt","type":"uint256"},
    {"name":"expiresAt","type":"uint256"},
    {"name":"duration","type":"uint256"},
    {"name":"paymentMethod","type":"string"},
    {"name":"active","type":"bool"}]},
  {"type":"function","name":"isMailboxActive","stateMutability":"view","inputs":[
    {"name":"mailboxId","type":"string"}],"outputs":[
    {"name":"","type":"bool"}]}
]`

// mustParseABI 解析内置 ABI，失败属于程序错误直接 panic。
func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(emailServiceABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse EmailService ABI: %v", err))
	}
	return parsed
}

// emailPurchasedData 是 EmailPurchased 事件中非索引参数的解码载体。
type emailPurchasedData struct {
	MailboxId     string
	Email         string
	ExpiresAt     *big.Int
	PaymentMethod string
}

// decodePurchaseEvent 将一条链上日志解码为购买事件。
func decodePurchaseEvent(contractABI abi.ABI, lg types.Log) (domain.PurchaseEvent, error) {
	event := contractABI.Events["EmailPurchased"]
	if len(lg.Topics) < 2 || lg.Topics[0] != event.ID {
		return domain.PurchaseEvent{}, fmt.Errorf("log is not an EmailPurchased event")
	}

	var data emailPurchasedData
	if err := contractABI.UnpackIntoInterface(&data, "EmailPurchased", lg.Data); err != nil {
		return domain.PurchaseEvent{}, fmt.Errorf("failed to unpack EmailPurchased data: %w", err)
	}

	buyer := common.BytesToAddress(lg.Topics[1].Bytes())

	return domain.PurchaseEvent{
		Buyer:         strings.ToLower(buyer.Hex()),
		MailboxID:     data.MailboxId,
		ExpiresAt:     time.Unix(data.ExpiresAt.Int64(), 0).UTC(),
		PaymentMethod: data.PaymentMethod,
		TxHash:        lg.TxHash.Hex(),
		BlockNumber:   lg.BlockNumber,
	}, nil
}

package txengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	werrors "custody/internal/errors"
	"custody/pkg/models"
)

// DemoHashPrefix 演示广播器生成的哈希前缀
const DemoHashPrefix = "demo_tx_"

// Broadcaster 交易广播接口。未配置时交易保持 pending，由外部调用 UpdateStatus 推进
type Broadcaster interface {
	Broadcast(ctx context.Context, wallet *models.Wallet, tx *models.Transaction) (*BroadcastResult, error)
}

// BroadcastResult 广播结果
type BroadcastResult struct {
	TxHash string
	Status models.TxStatus // pending 或 confirmed
	Demo   bool
}

// DemoBroadcaster 演示广播器：立即确认并生成 demo_tx_ 哈希，结果带 Demo 标记
type DemoBroadcaster struct{}

// NewDemoBroadcaster 创建演示广播器
func NewDemoBroadcaster() *DemoBroadcaster {
	return &DemoBroadcaster{}
}

// Broadcast 不接触任何链节点
func (DemoBroadcaster) Broadcast(ctx context.Context, _ *models.Wallet, _ *models.Transaction) (*BroadcastResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &BroadcastResult{
		TxHash: DemoHashPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status: models.TxStatusConfirmed,
		Demo:   true,
	}, nil
}

// NewBroadcaster 按名称创建广播器，"none" 或空返回 nil
func NewBroadcaster(name string) (Broadcaster, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "demo":
		return NewDemoBroadcaster(), nil
	default:
		return nil, werrors.ErrConfigInvalid(fmt.Sprintf("未知的广播器: %s", name))
	}
}

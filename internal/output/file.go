package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"custody/pkg/models"
)

// FileOutput JSON Lines 文件输出，每种事件一个文件
type FileOutput struct {
	outputDir string
	logger    *logrus.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputDir string, logger *logrus.Logger) (*FileOutput, error) {
	if outputDir == "" {
		outputDir = "./output"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	o := &FileOutput{
		outputDir: outputDir,
		logger:    logger,
		files:     make(map[string]*os.File),
	}

	timestamp := time.Now().Format("20060102_150405")
	for _, event := range []string{EventWallets, EventTransactions, EventBundles, EventOwnershipTransfers} {
		f, err := os.OpenFile(filepath.Join(outputDir, fmt.Sprintf("%s_%s.json", event, timestamp)),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("创建 %s 文件失败: %w", event, err)
		}
		o.files[event] = f
	}

	logger.Infof("文件输出已初始化，目录: %s", outputDir)
	return o, nil
}

// write 写入一行JSON并刷新到磁盘
func (o *FileOutput) write(env envelope) error {
	data, err := json.Marshal(env.payload)
	if err != nil {
		return fmt.Errorf("序列化%s数据失败: %w", env.event, err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	f, ok := o.files[env.event]
	if !ok {
		return fmt.Errorf("输出文件已关闭: %s", env.event)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("写入%s文件失败: %w", env.event, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("刷新%s文件失败: %w", env.event, err)
	}
	return nil
}

// WriteWallet 写入钱包创建事件
func (o *FileOutput) WriteWallet(w *models.Wallet) error {
	if w == nil {
		return nil
	}
	return o.write(walletEnvelope(w))
}

// WriteTransaction 写入交易事件
func (o *FileOutput) WriteTransaction(t *models.Transaction) error {
	if t == nil {
		return nil
	}
	return o.write(transactionEnvelope(t))
}

// WriteBundle 写入交易包事件
func (o *FileOutput) WriteBundle(b *models.Bundle) error {
	if b == nil {
		return nil
	}
	return o.write(bundleEnvelope(b))
}

// WriteOwnershipTransfer 写入所有权转移事件
func (o *FileOutput) WriteOwnershipTransfer(r *models.OwnershipTransfer) error {
	if r == nil {
		return nil
	}
	return o.write(ownershipEnvelope(r))
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for event, f := range o.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭%s文件失败: %w", event, err))
		}
		delete(o.files, event)
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}
	return nil
}

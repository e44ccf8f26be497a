package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"custody/internal/chain"
	"custody/internal/chain/ethereum"
	"custody/internal/chain/solana"
	"custody/internal/chain/tron"
	"custody/internal/config"
	"custody/internal/logging"
	"custody/internal/retry"
	"custody/pkg/models"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fbsobreira/gotron-sdk/pkg/client"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Pool 链客户端池：启动时每条链只建立一次连接，关闭时统一释放
type Pool struct {
	config   *config.ChainsConfig
	retrier  *retry.Retrier
	logger   *logrus.Logger
	registry *chain.Registry

	mu    sync.RWMutex
	nodes map[models.ChainType]*Node

	healthInterval time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
}

// Node 单条链的节点连接
type Node struct {
	ChainType models.ChainType
	Endpoint  string

	ping  func(ctx context.Context) error
	close func() error

	mu        sync.Mutex
	isHealthy bool
	lastCheck time.Time
	lastError string
}

// NewPool 创建链客户端池
func NewPool(cfg *config.ChainsConfig, retryConfig *retry.RetryConfig, logger *logrus.Logger) *Pool {
	return &Pool{
		config:         cfg,
		retrier:        retry.NewRetrier(retryConfig, logger),
		logger:         logger,
		registry:       chain.NewRegistry(),
		nodes:          make(map[models.ChainType]*Node),
		healthInterval: 30 * time.Second,
		stopCh:         make(chan struct{}),
	}
}

// Initialize 连接所有启用的链并注册适配器
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.ETH != nil && p.config.ETH.Enabled {
		if err := p.initEthereum(ctx); err != nil {
			return err
		}
	}
	if p.config.SOL != nil && p.config.SOL.Enabled {
		p.initSolana()
	}
	if p.config.TRON != nil && p.config.TRON.Enabled {
		if err := p.initTron(); err != nil {
			return err
		}
	}

	if len(p.registry.List()) == 0 {
		return fmt.Errorf("没有启用任何链")
	}

	for _, node := range p.nodes {
		node.check(ctx, p.logger)
	}
	return nil
}

func (p *Pool) initEthereum(ctx context.Context) error {
	cfg := p.config.ETH
	adapterCfg := ethereum.Config{
		Tokens:          cfg.Tokens,
		MaxGasPriceGwei: cfg.MaxGasPriceGwei,
		RPCTimeout:      cfg.Timeout,
	}

	if cfg.RPCURL == "" {
		p.logger.Warn("以太坊未配置节点地址，只支持地址派生")
		adapter, err := ethereum.NewAdapter(nil, adapterCfg, p.retrier, p.logger)
		if err != nil {
			return err
		}
		p.registry.Register(adapter)
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ethClient, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	adapter, err := ethereum.NewAdapter(ethClient, adapterCfg, p.retrier, p.logger)
	if err != nil {
		ethClient.Close()
		return err
	}
	p.registry.Register(adapter)
	p.nodes[models.ChainETH] = &Node{
		ChainType: models.ChainETH,
		Endpoint:  cfg.RPCURL,
		ping: func(ctx context.Context) error {
			_, err := ethClient.ChainID(ctx)
			return err
		},
		close: func() error {
			ethClient.Close()
			return nil
		},
	}
	logging.NewRPCLogger(p.logger, string(models.ChainETH), cfg.RPCURL).Info("以太坊客户端已初始化")
	return nil
}

func (p *Pool) initSolana() {
	cfg := p.config.SOL
	adapterCfg := solana.Config{
		LamportsPerSignature: cfg.LamportsPerSignature,
		Tokens:               cfg.Tokens,
		RPCTimeout:           cfg.Timeout,
	}

	if cfg.RPCURL == "" {
		p.logger.Warn("Solana 未配置节点地址，只支持地址派生")
		p.registry.Register(solana.NewAdapter(nil, adapterCfg, p.retrier, p.logger))
		return
	}

	rpcClient := solrpc.New(cfg.RPCURL)
	p.registry.Register(solana.NewAdapter(solana.NewRPCClient(rpcClient, cfg.Commitment), adapterCfg, p.retrier, p.logger))
	p.nodes[models.ChainSOL] = &Node{
		ChainType: models.ChainSOL,
		Endpoint:  cfg.RPCURL,
		ping: func(ctx context.Context) error {
			_, err := rpcClient.GetHealth(ctx)
			return err
		},
		close: rpcClient.Close,
	}
	logging.NewRPCLogger(p.logger, string(models.ChainSOL), cfg.RPCURL).Info("Solana 客户端已初始化")
}

func (p *Pool) initTron() error {
	cfg := p.config.TRON
	adapterCfg := tron.Config{
		Tokens: cfg.Tokens,
		Fees:   cfg.Fees,
	}

	if cfg.GRPCAddress == "" {
		p.logger.Warn("TRON 未配置节点地址，只支持地址派生")
		p.registry.Register(tron.NewAdapter(nil, adapterCfg, p.retrier, p.logger))
		return nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	grpcClient := client.NewGrpcClientWithTimeout(cfg.GRPCAddress, timeout)
	if cfg.APIKey != "" {
		if err := grpcClient.SetAPIKey(cfg.APIKey); err != nil {
			return fmt.Errorf("设置 TRON API Key 失败: %w", err)
		}
	}
	if err := grpcClient.Start(grpc.WithTransportCredentials(insecure.NewCredentials())); err != nil {
		return fmt.Errorf("连接 TRON 节点失败: %w", err)
	}

	p.registry.Register(tron.NewAdapter(grpcClient, adapterCfg, p.retrier, p.logger))
	p.nodes[models.ChainTRON] = &Node{
		ChainType: models.ChainTRON,
		Endpoint:  cfg.GRPCAddress,
		ping: func(context.Context) error {
			_, err := grpcClient.GetNowBlock()
			return err
		},
		close: func() error {
			grpcClient.Stop()
			return nil
		},
	}
	logging.NewRPCLogger(p.logger, string(models.ChainTRON), cfg.GRPCAddress).Info("TRON 客户端已初始化")
	return nil
}

// Registry 已注册的链适配器
func (p *Pool) Registry() *chain.Registry {
	return p.registry
}

// check 执行一次健康检查
func (n *Node) check(ctx context.Context, logger *logrus.Logger) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := n.ping(checkCtx)

	n.mu.Lock()
	defer n.mu.Unlock()
	wasHealthy := n.isHealthy
	n.isHealthy = err == nil
	n.lastCheck = time.Now()
	if err != nil {
		n.lastError = err.Error()
		logging.NewRPCLogger(logger, string(n.ChainType), n.Endpoint).WithError(err).Warn("节点健康检查失败")
	} else {
		n.lastError = ""
		if !wasHealthy {
			logging.NewRPCLogger(logger, string(n.ChainType), n.Endpoint).Info("节点已恢复健康")
		}
	}
	return n.isHealthy
}

// IsHealthy 节点最近一次检查是否健康
func (n *Node) IsHealthy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isHealthy
}

// StartHealthCheck 后台定期检查节点
func (p *Pool) StartHealthCheck() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.healthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.CheckHealth(context.Background())
			}
		}
	}()
}

// CheckHealth 立即检查所有节点
func (p *Pool) CheckHealth(ctx context.Context) map[string]bool {
	p.mu.RLock()
	nodes := make([]*Node, 0, len(p.nodes))
	for _, node := range p.nodes {
		nodes = append(nodes, node)
	}
	p.mu.RUnlock()

	result := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		result[string(node.ChainType)] = node.check(ctx, p.logger)
	}
	return result
}

// GetStats 获取连接状态
func (p *Pool) GetStats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make(map[string]interface{})
	for chainType, node := range p.nodes {
		node.mu.Lock()
		stats[string(chainType)] = map[string]interface{}{
			"endpoint":   node.Endpoint,
			"healthy":    node.isHealthy,
			"last_check": node.lastCheck,
			"last_error": node.lastError,
		}
		node.mu.Unlock()
	}
	chains := make([]string, 0)
	for _, ct := range p.registry.List() {
		chains = append(chains, string(ct))
	}
	stats["chains"] = chains
	return stats
}

// StopHealthCheck 停止后台巡检并等待其退出，可重复调用
func (p *Pool) StopHealthCheck() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Close 关闭所有链客户端
func (p *Pool) Close() error {
	p.StopHealthCheck()

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for chainType, node := range p.nodes {
		if err := node.close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 %s 客户端失败: %w", chainType, err))
		}
		delete(p.nodes, chainType)
	}
	p.logger.Info("链客户端已全部关闭")
	return errors.Join(errs...)
}

// OfflineRegistry 不连接节点的适配器集合，只用于助记词和地址派生
func OfflineRegistry(cfg *config.ChainsConfig, logger *logrus.Logger) (*chain.Registry, error) {
	retrier := retry.NewRetrier(retry.NoRetryConfig(), logger)

	ethAdapter, err := ethereum.NewAdapter(nil, ethereum.Config{Tokens: cfg.ETH.Tokens}, retrier, logger)
	if err != nil {
		return nil, err
	}
	return chain.NewRegistry(
		ethAdapter,
		solana.NewAdapter(nil, solana.Config{Tokens: cfg.SOL.Tokens}, retrier, logger),
		tron.NewAdapter(nil, tron.Config{Tokens: cfg.TRON.Tokens, Fees: cfg.TRON.Fees}, retrier, logger),
	), nil
}

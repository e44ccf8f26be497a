package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"custody/internal/api"
	"custody/internal/balance"
	"custody/internal/chain"
	"custody/internal/config"
	"custody/internal/connection"
	"custody/internal/custody"
	"custody/internal/logging"
	"custody/internal/output"
	"custody/internal/security"
	"custody/internal/shutdown"
	"custody/internal/store"
	"custody/internal/txengine"
	"custody/internal/validation"
)

// Options 启动参数
type Options struct {
	ConfigPath string
	Verbose    bool
	// Offline 不连接任何节点，适配器只能做地址派生与校验
	Offline bool
}

// App 组装好的运行时组件
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Store    *store.BoltStore
	Pool     *connection.Pool // Offline 时为 nil
	Output   output.Output
	Service  *custody.Service
	Settings *config.DatabaseConfig // 未配置 DSN 时为 nil
	Shutdown *shutdown.Manager
}

// New 加载配置并按依赖顺序创建各组件，任一步失败时关闭已创建的组件
func New(ctx context.Context, opts Options) (*App, error) {
	bootLogger := logrus.New()
	cfg, err := config.LoadConfig(opts.ConfigPath, bootLogger)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Shutdown: shutdown.NewManager(cfg.API.ShutdownTimeout, logger),
	}
	if err := a.build(ctx, opts); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("释放已创建的组件失败")
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config

	repo, err := store.NewBoltStore(cfg.Storage.Path, a.Logger)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	a.Store = repo
	a.Shutdown.RegisterCloser("store", shutdown.OrderStore, repo.Close)

	var chains *chain.Registry
	if opts.Offline {
		if chains, err = connection.OfflineRegistry(cfg.Chains, a.Logger); err != nil {
			return err
		}
	} else {
		pool := connection.NewPool(cfg.Chains, cfg.Retry, a.Logger)
		a.Pool = pool
		a.Shutdown.RegisterCloser("chain_clients", shutdown.OrderChainClients, pool.Close)
		if err := pool.Initialize(ctx); err != nil {
			return fmt.Errorf("初始化链节点失败: %w", err)
		}
		chains = pool.Registry()
	}

	cipher, err := security.NewMnemonicCipher(cfg.Security.MnemonicKey, cfg.Security.KDF, cfg.Security.AllowPlaintextMnemonic)
	if err != nil {
		return err
	}

	out, err := output.NewOutput(*cfg.Output, a.Logger)
	if err != nil {
		return fmt.Errorf("创建输出器失败: %w", err)
	}
	a.Output = out
	a.Shutdown.RegisterCloser("output", shutdown.OrderOutput, out.Close)

	broadcaster, err := txengine.NewBroadcaster(cfg.Transactions.Broadcaster)
	if err != nil {
		return err
	}

	a.Service = custody.NewService(custody.Deps{
		Repo:        repo,
		Chains:      chains,
		Cipher:      cipher,
		Broadcaster: broadcaster,
		Output:      out,
		Validator:   validation.NewValidator(a.Logger, cfg.Transactions.StrictValidation),
		Fallback:    balance.ParseFallbackPolicy(cfg.Transactions.BalanceFallback),
		Logger:      a.Logger,
	})

	a.Logger.WithFields(logrus.Fields{
		"chains":      chains.List(),
		"storage":     repo.Path(),
		"output":      cfg.Output.Format,
		"broadcaster": cfg.Transactions.Broadcaster,
		"offline":     opts.Offline,
	}).Info("托管服务已初始化")
	return nil
}

// NewServer 创建 HTTP 服务并注册停机钩子。设置了 DSN 时打开配置库供在线修改
func (a *App) NewServer() (*api.Server, error) {
	var settings api.SettingsStore
	if a.Config.Database.DSN != "" {
		db, err := config.NewDatabaseConfig(a.Config.Database.DSN, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("连接配置数据库失败: %w", err)
		}
		a.Settings = db
		settings = db
		a.Shutdown.RegisterCloser("settings_db", shutdown.OrderStore, db.Close)
	}

	var nodes api.NodeStatus
	if a.Pool != nil {
		nodes = a.Pool
		a.Pool.StartHealthCheck()
		a.Shutdown.RegisterCloser("health_checks", shutdown.OrderHealthChecks, func() error {
			a.Pool.StopHealthCheck()
			return nil
		})
	}

	server := api.NewServer(a.Service, nodes, api.NewConfigManager(a.Config, settings, a.Logger), a.Config.API, a.Logger)
	a.Shutdown.Register("http_server", shutdown.OrderHTTPServer, server.Stop)
	return server, nil
}

// Serve 启动 HTTP 服务并阻塞，直到收到停机信号或服务异常退出
func (a *App) Serve() error {
	server, err := a.NewServer()
	if err != nil {
		return err
	}
	a.Shutdown.ListenSignals()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.Logger.WithError(err).Error("API服务器异常退出")
		}
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.WithError(closeErr).Warn("停机过程中出现错误")
		}
		return err
	case <-a.Shutdown.Done():
		return a.Shutdown.Wait()
	}
}

// Close 按停机顺序释放所有组件
func (a *App) Close() error {
	return a.Shutdown.Shutdown()
}

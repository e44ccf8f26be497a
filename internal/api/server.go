package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"custody/internal/config"
	"custody/internal/custody"
)

// NodeStatus 链节点状态来源，由 connection.Pool 实现
type NodeStatus interface {
	GetStats() map[string]interface{}
	CheckHealth(ctx context.Context) map[string]bool
}

// Server API服务器
type Server struct {
	service       *custody.Service
	nodes         NodeStatus
	configManager *ConfigManager
	apiConfig     *config.APIConfig
	logger        *logrus.Logger
	logManager    *LogManager
	startedAt     time.Time

	mu     sync.Mutex
	router *gin.Engine
	server *http.Server
}

// NewServer 创建新的API服务器，nodes 和 configManager 可为 nil
func NewServer(service *custody.Service, nodes NodeStatus, configManager *ConfigManager,
	apiConfig *config.APIConfig, logger *logrus.Logger) *Server {
	if apiConfig == nil {
		apiConfig = config.GetDefaultConfig().API
	}

	// 创建日志管理器，最多保存1000条日志
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		service:       service,
		nodes:         nodes,
		configManager: configManager,
		apiConfig:     apiConfig,
		logger:        logger,
		logManager:    logManager,
		startedAt:     time.Now(),
	}
}

// Router 构建路由，多次调用返回同一个实例
func (s *Server) Router() *gin.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router != nil {
		return s.router
	}

	switch s.apiConfig.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(s.apiConfig.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 添加CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	s.setupRoutes(router)
	s.router = router
	return router
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	handler := s.Router()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              s.apiConfig.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在 %s", s.apiConfig.Addr())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止API服务器，等待进行中的请求完成
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("API服务器正在停止")
	return srv.Shutdown(ctx)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", s.healthCheck)

	api := router.Group("/api")
	{
		api.GET("/", s.root)

		// 钱包
		api.POST("/wallets", s.createWallet)
		api.GET("/wallets", s.listWallets)
		api.GET("/wallets/:wallet_id", s.getWallet)
		api.GET("/wallets/:wallet_id/balance", s.getBalance)
		api.GET("/wallets/:wallet_id/tokens", s.getTokens)
		api.POST("/wallets/:wallet_id/ownership", s.transferOwnership)
		api.GET("/wallets/:wallet_id/ownership", s.ownershipHistory)
		api.PUT("/wallets/:wallet_id/sponsor", s.setSponsor)
		api.POST("/wallets/:wallet_id/mnemonic", s.exportMnemonic)

		// 交易
		api.POST("/transactions", s.submitTransaction)
		api.POST("/transactions/simulate", s.simulateTransaction)
		api.GET("/transactions/:wallet_id", s.listTransactions)
		api.GET("/transactions/:wallet_id/:tx_id", s.getTransaction)
		api.PUT("/transactions/:wallet_id/:tx_id/status", s.updateTransactionStatus)

		// 交易包
		api.POST("/bundles", s.createBundle)
		api.GET("/bundles/:bundle_id", s.getBundle)

		// 统计与节点
		api.GET("/stats", s.getStats)
		api.GET("/nodes", s.getNodes)

		// 配置管理
		api.GET("/config", s.getConfig)
		api.GET("/config/settings", s.listSettings)
		api.PUT("/config/settings", s.updateSetting)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// requestLogger 请求日志中间件
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("HTTP请求失败")
			return
		}
		entry.Debug("HTTP请求")
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	status := "healthy"
	nodes := map[string]bool{}
	if s.nodes != nil {
		nodes = s.nodes.CheckHealth(c.Request.Context())
		for _, ok := range nodes {
			if !ok {
				status = "degraded"
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"chains":    s.service.Chains(),
		"nodes":     nodes,
		"uptime":    time.Since(s.startedAt).String(),
		"timestamp": time.Now().Unix(),
	})
}

// root API 入口
func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "多链托管钱包 API",
		"chains":  s.service.Chains(),
	})
}

// getStats 获取错误统计
func (s *Server) getStats(c *gin.Context) {
	stats := s.service.ErrorHandler().GetStats()

	byType := make(map[string]int, len(stats.ErrorsByType))
	for t, n := range stats.ErrorsByType {
		byType[t.String()] = n
	}

	c.JSON(http.StatusOK, gin.H{
		"total_errors":        stats.TotalErrors,
		"errors_by_type":      byType,
		"errors_by_component": stats.ErrorsByComponent,
		"error_rate_per_hour": stats.GetErrorRate(time.Hour),
		"uptime":              time.Since(s.startedAt).String(),
	})
}

// getNodes 获取节点状态
func (s *Server) getNodes(c *gin.Context) {
	if s.nodes == nil {
		c.JSON(http.StatusOK, gin.H{
			"nodes":   gin.H{},
			"message": "未配置任何节点",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes": s.nodes.GetStats(),
	})
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1 // 默认第1页
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20 // 默认每页20条
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}

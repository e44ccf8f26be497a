package api

import (
	"net/http"
	"strings"

	"custody/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SettingsStore 可在线修改的配置项存储，*config.DatabaseConfig 满足该接口
type SettingsStore interface {
	ListConfigs() (map[string]string, error)
	UpdateConfig(key, value string) error
}

// ConfigManager 配置管理器
type ConfigManager struct {
	config   *config.Config
	settings SettingsStore
	logger   *logrus.Logger
}

// NewConfigManager 创建配置管理器，settings 为 nil 时只提供只读视图
func NewConfigManager(cfg *config.Config, settings SettingsStore, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		config:   cfg,
		settings: settings,
		logger:   logger,
	}
}

// getConfig 获取当前生效的配置（隐藏敏感字段）
func (s *Server) getConfig(c *gin.Context) {
	if s.configManager == nil || s.configManager.config == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "配置未初始化",
		})
		return
	}
	c.JSON(http.StatusOK, s.configManager.config.Redacted())
}

// listSettings 列出数据库中的配置项
func (s *Server) listSettings(c *gin.Context) {
	if !s.settingsAvailable(c) {
		return
	}

	settings, err := s.configManager.settings.ListConfigs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取配置失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"settings":       settings,
		"supported_keys": config.SettingKeys,
	})
}

// updateSetting 更新数据库中的配置项，重启后生效
func (s *Server) updateSetting(c *gin.Context) {
	if !s.settingsAvailable(c) {
		return
	}

	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	key := strings.TrimSpace(req.Key)
	if !config.IsSettingKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "不支持的配置项",
			"key":            key,
			"supported_keys": config.SettingKeys,
		})
		return
	}

	if err := s.configManager.settings.UpdateConfig(key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	s.configManager.logger.WithFields(logrus.Fields{
		"key":   key,
		"value": req.Value,
	}).Info("配置项已更新，重启后生效")

	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功，重启后生效",
		"key":     key,
		"value":   req.Value,
	})
}

func (s *Server) settingsAvailable(c *gin.Context) bool {
	if s.configManager == nil || s.configManager.settings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "未配置配置数据库",
		})
		return false
	}
	return true
}

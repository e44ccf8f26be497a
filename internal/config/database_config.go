package config

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"custody/internal/chain"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// 配置库表结构:
//
//	chain_endpoints(chain_type, endpoint, api_key, is_active, priority)
//	token_catalog(chain_type, address, symbol, decimals, name, logo_url, is_active)
//	custody_config(config_key, config_value, is_active, updated_at)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return NewDatabaseConfigWithDB(db, logger), nil
}

// NewDatabaseConfigWithDB 使用已有连接创建配置管理器
func NewDatabaseConfigWithDB(db *sql.DB, logger *logrus.Logger) *DatabaseConfig {
	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}
}

// Apply 用数据库中的节点、代币和引擎参数覆盖配置
func (dc *DatabaseConfig) Apply(config *Config) error {
	endpoints, err := dc.loadEndpoints()
	if err != nil {
		return fmt.Errorf("加载链节点配置失败: %w", err)
	}
	for chainType, ep := range endpoints {
		switch chainType {
		case "ETH":
			config.Chains.ETH.RPCURL = ep.endpoint
		case "SOL":
			config.Chains.SOL.RPCURL = ep.endpoint
		case "TRON":
			config.Chains.TRON.GRPCAddress = ep.endpoint
			if ep.apiKey != "" {
				config.Chains.TRON.APIKey = ep.apiKey
			}
		default:
			dc.logger.Warnf("忽略未知链类型的节点配置: %s", chainType)
		}
	}

	tokens, err := dc.loadTokenCatalog()
	if err != nil {
		return fmt.Errorf("加载代币目录失败: %w", err)
	}
	// 数据库中存在某条链的代币时整体替换该链的代币列表
	if list, ok := tokens["ETH"]; ok {
		config.Chains.ETH.Tokens = list
	}
	if list, ok := tokens["SOL"]; ok {
		config.Chains.SOL.Tokens = list
	}
	if list, ok := tokens["TRON"]; ok {
		config.Chains.TRON.Tokens = list
	}

	settings, err := dc.ListConfigs()
	if err != nil {
		return fmt.Errorf("加载引擎配置失败: %w", err)
	}
	applySettings(config, settings, dc.logger)
	return nil
}

type endpointRow struct {
	endpoint string
	apiKey   string
}

// loadEndpoints 每条链取优先级最高的启用节点
func (dc *DatabaseConfig) loadEndpoints() (map[string]endpointRow, error) {
	query := `SELECT chain_type, endpoint, COALESCE(api_key, '') FROM chain_endpoints WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	endpoints := make(map[string]endpointRow)
	for rows.Next() {
		var chainType string
		var row endpointRow
		if err := rows.Scan(&chainType, &row.endpoint, &row.apiKey); err != nil {
			return nil, err
		}
		chainType = strings.ToUpper(chainType)
		if _, seen := endpoints[chainType]; !seen {
			endpoints[chainType] = row
		}
	}
	return endpoints, rows.Err()
}

// loadTokenCatalog 加载代币目录
func (dc *DatabaseConfig) loadTokenCatalog() (map[string][]chain.TokenSpec, error) {
	query := `SELECT chain_type, address, symbol, decimals, COALESCE(name, ''), COALESCE(logo_url, '')
		FROM token_catalog WHERE is_active = true ORDER BY chain_type, symbol`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make(map[string][]chain.TokenSpec)
	for rows.Next() {
		var chainType string
		var token chain.TokenSpec
		if err := rows.Scan(&chainType, &token.Address, &token.Symbol, &token.Decimals, &token.Name, &token.LogoURL); err != nil {
			return nil, err
		}
		chainType = strings.ToUpper(chainType)
		tokens[chainType] = append(tokens[chainType], token)
	}
	return tokens, rows.Err()
}

// SettingKeys 支持在数据库中覆盖的配置项
var SettingKeys = []string{
	"transactions.broadcaster",
	"transactions.balance_fallback",
	"transactions.strict_validation",
	"chains.eth.max_gas_price_gwei",
	"chains.sol.lamports_per_signature",
	"output.format",
}

// IsSettingKey 是否为支持的配置项
func IsSettingKey(key string) bool {
	for _, k := range SettingKeys {
		if k == key {
			return true
		}
	}
	return false
}

// applySettings 将键值配置写入配置结构
func applySettings(config *Config, settings map[string]string, logger *logrus.Logger) {
	for key, value := range settings {
		switch key {
		case "transactions.broadcaster":
			config.Transactions.Broadcaster = value
		case "transactions.balance_fallback":
			config.Transactions.BalanceFallback = value
		case "transactions.strict_validation":
			if v, err := strconv.ParseBool(value); err == nil {
				config.Transactions.StrictValidation = v
			}
		case "chains.eth.max_gas_price_gwei":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				config.Chains.ETH.MaxGasPriceGwei = v
			}
		case "chains.sol.lamports_per_signature":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				config.Chains.SOL.LamportsPerSignature = v
			}
		case "output.format":
			config.Output.Format = value
		default:
			logger.Debugf("忽略未知配置项: %s", key)
		}
	}
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(key, value string) error {
	query := `
		INSERT INTO custody_config (config_key, config_value, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, is_active = true, updated_at = CURRENT_TIMESTAMP
	`
	_, err := dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(key string) (string, error) {
	query := `SELECT config_value FROM custody_config WHERE config_key = $1 AND is_active = true`
	var value string
	err := dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// ListConfigs 列出所有配置
func (dc *DatabaseConfig) ListConfigs() (map[string]string, error) {
	query := `SELECT config_key, config_value FROM custody_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		configs[key] = value
	}
	return configs, rows.Err()
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}

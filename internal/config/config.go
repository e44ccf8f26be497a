package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"custody/internal/chain"
	"custody/internal/chain/tron"
	werrors "custody/internal/errors"
	"custody/internal/logging"
	"custody/internal/output"
	"custody/internal/retry"
	"custody/internal/security"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 CUSTODY_SECURITY_MNEMONIC_KEY
const EnvPrefix = "CUSTODY"

// Config 主配置
type Config struct {
	Chains       *ChainsConfig       `mapstructure:"chains"`
	Storage      *StorageConfig      `mapstructure:"storage"`
	Security     *SecurityConfig     `mapstructure:"security"`
	Transactions *TransactionsConfig `mapstructure:"transactions"`
	Output       *output.Config      `mapstructure:"output"`
	Retry        *retry.RetryConfig  `mapstructure:"retry"`
	Logging      *logging.LogConfig  `mapstructure:"logging"`
	API          *APIConfig          `mapstructure:"api"`
	Database     *DatabaseSettings   `mapstructure:"database"`
}

// ChainsConfig 各链节点配置
type ChainsConfig struct {
	ETH  *EthereumConfig `mapstructure:"eth"`
	SOL  *SolanaConfig   `mapstructure:"sol"`
	TRON *TronConfig     `mapstructure:"tron"`
}

// EthereumConfig 以太坊节点配置
type EthereumConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	RPCURL          string            `mapstructure:"rpc_url"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	MaxGasPriceGwei int64             `mapstructure:"max_gas_price_gwei"`
	Tokens          []chain.TokenSpec `mapstructure:"tokens"`
}

// SolanaConfig Solana 节点配置
type SolanaConfig struct {
	Enabled              bool              `mapstructure:"enabled"`
	RPCURL               string            `mapstructure:"rpc_url"`
	Commitment           string            `mapstructure:"commitment"`
	Timeout              time.Duration     `mapstructure:"timeout"`
	LamportsPerSignature uint64            `mapstructure:"lamports_per_signature"`
	Tokens               []chain.TokenSpec `mapstructure:"tokens"`
}

// TronConfig TRON 节点配置
type TronConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	GRPCAddress string            `mapstructure:"grpc_address"`
	APIKey      string            `mapstructure:"api_key"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Tokens      []chain.TokenSpec `mapstructure:"tokens"`
	Fees        tron.FeeModel     `mapstructure:"fees"`
}

// StorageConfig 本地存储配置
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// SecurityConfig 助记词加密配置
type SecurityConfig struct {
	MnemonicKey            string             `mapstructure:"mnemonic_key"`
	AllowPlaintextMnemonic bool               `mapstructure:"allow_plaintext_mnemonic"`
	KDF                    security.KDFParams `mapstructure:"kdf"`
}

// TransactionsConfig 交易引擎配置
type TransactionsConfig struct {
	Broadcaster      string `mapstructure:"broadcaster"`       // none | demo
	BalanceFallback  string `mapstructure:"balance_fallback"`  // fail | zero
	StrictValidation bool   `mapstructure:"strict_validation"` // 警告视为错误
}

// APIConfig HTTP 服务配置
type APIConfig struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	Mode                string        `mapstructure:"mode"`                  // gin 模式: debug | release | test
	AllowMnemonicExport bool          `mapstructure:"allow_mnemonic_export"` // 是否允许通过 HTTP 导出助记词
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr 监听地址
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseSettings 可选的 Postgres 配置库
type DatabaseSettings struct {
	DSN string `mapstructure:"dsn"`
}

// envBindings 未出现在配置文件中也需要读取的环境变量
var envBindings = map[string][]string{
	"database.dsn":                      {"CUSTODY_DB_DSN", "CUSTODY_DATABASE_DSN"},
	"security.mnemonic_key":             {"CUSTODY_SECURITY_MNEMONIC_KEY"},
	"security.allow_plaintext_mnemonic": {"CUSTODY_SECURITY_ALLOW_PLAINTEXT_MNEMONIC"},
	"chains.eth.rpc_url":                {"CUSTODY_CHAINS_ETH_RPC_URL"},
	"chains.sol.rpc_url":                {"CUSTODY_CHAINS_SOL_RPC_URL"},
	"chains.tron.grpc_address":          {"CUSTODY_CHAINS_TRON_GRPC_ADDRESS"},
	"chains.tron.api_key":               {"CUSTODY_CHAINS_TRON_API_KEY"},
	"storage.path":                      {"CUSTODY_STORAGE_PATH"},
	"transactions.broadcaster":          {"CUSTODY_TRANSACTIONS_BROADCASTER"},
	"logging.level":                     {"CUSTODY_LOGGING_LEVEL"},
	"api.port":                          {"CUSTODY_API_PORT"},
}

// LoadConfig 加载配置：默认值 <- YAML 文件 <- 环境变量 <- 数据库（设置了 DSN 时）
func LoadConfig(configPath string, logger *logrus.Logger) (*Config, error) {
	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	if config.Database != nil && config.Database.DSN != "" {
		if logger == nil {
			logger = logrus.New()
		}
		dbConfig, err := NewDatabaseConfig(config.Database.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接配置数据库失败: %w", err)
		}
		defer dbConfig.Close()

		if err := dbConfig.Apply(config); err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		logger.Info("已从数据库加载链节点与代币配置")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFromFile 从文件和环境变量加载配置，configPath 为空时只使用默认值和环境变量
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("配置文件不存在: %w", err)
		}
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Chains == nil || c.Storage == nil || c.Security == nil || c.Transactions == nil {
		return werrors.ErrConfigInvalid("配置缺少必要的段落")
	}
	if !c.Chains.ETH.Enabled && !c.Chains.SOL.Enabled && !c.Chains.TRON.Enabled {
		return werrors.ErrConfigInvalid("至少需要启用一条链")
	}
	if c.Storage.Path == "" {
		return werrors.ErrConfigInvalid("storage.path 不能为空")
	}
	if c.Security.MnemonicKey == "" && !c.Security.AllowPlaintextMnemonic {
		return werrors.ErrConfigInvalid("未配置 security.mnemonic_key，且未允许明文保存助记词")
	}

	switch strings.ToLower(c.Transactions.Broadcaster) {
	case "", "none", "demo":
	default:
		return werrors.ErrConfigInvalid(fmt.Sprintf("不支持的广播器: %s", c.Transactions.Broadcaster))
	}
	switch strings.ToLower(c.Transactions.BalanceFallback) {
	case "", "fail", "zero":
	default:
		return werrors.ErrConfigInvalid(fmt.Sprintf("不支持的余额降级策略: %s", c.Transactions.BalanceFallback))
	}

	for _, token := range c.allTokens() {
		if token.Address == "" || token.Symbol == "" {
			return werrors.ErrConfigInvalid("代币配置缺少地址或符号")
		}
		if token.Decimals < 0 {
			return werrors.ErrConfigInvalid(fmt.Sprintf("代币 %s 的精度不能为负数", token.Symbol))
		}
	}

	if c.API != nil && (c.API.Port <= 0 || c.API.Port > 65535) {
		return werrors.ErrConfigInvalid(fmt.Sprintf("无效的 API 端口: %d", c.API.Port))
	}
	return nil
}

func (c *Config) allTokens() []chain.TokenSpec {
	var tokens []chain.TokenSpec
	tokens = append(tokens, c.Chains.ETH.Tokens...)
	tokens = append(tokens, c.Chains.SOL.Tokens...)
	tokens = append(tokens, c.Chains.TRON.Tokens...)
	return tokens
}

// Redacted 返回隐藏敏感字段后的副本，用于日志和 API 展示
func (c *Config) Redacted() *Config {
	out := *c
	if c.Security != nil {
		sec := *c.Security
		if sec.MnemonicKey != "" {
			sec.MnemonicKey = "******"
		}
		out.Security = &sec
	}
	if c.Database != nil {
		db := *c.Database
		if db.DSN != "" {
			db.DSN = "******"
		}
		out.Database = &db
	}
	if c.Chains != nil && c.Chains.TRON != nil {
		chains := *c.Chains
		tronCfg := *c.Chains.TRON
		if tronCfg.APIKey != "" {
			tronCfg.APIKey = "******"
		}
		chains.TRON = &tronCfg
		out.Chains = &chains
	}
	return &out
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chains: &ChainsConfig{
			ETH: &EthereumConfig{
				Enabled:         true,
				RPCURL:          "", // 需要在YAML配置、环境变量或数据库中指定
				Timeout:         10 * time.Second,
				MaxGasPriceGwei: 500,
			},
			SOL: &SolanaConfig{
				Enabled:              true,
				RPCURL:               "https://api.mainnet-beta.solana.com",
				Commitment:           "finalized",
				Timeout:              10 * time.Second,
				LamportsPerSignature: 5000,
			},
			TRON: &TronConfig{
				Enabled:     true,
				GRPCAddress: "grpc.trongrid.io:50051",
				Timeout:     10 * time.Second,
				Fees:        tron.DefaultFeeModel(),
			},
		},
		Storage: &StorageConfig{
			Path: "./data/custody.db",
		},
		Security: &SecurityConfig{
			KDF: security.DefaultKDFParams(),
		},
		Transactions: &TransactionsConfig{
			Broadcaster:     "none",
			BalanceFallback: "fail",
		},
		Output: &output.Config{
			Format:    "none",
			Directory: "./outputs",
			Kafka: output.KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics:  output.DefaultTopics(),
			},
		},
		Retry:   retry.DefaultRetryConfig(),
		Logging: logging.DefaultLogConfig(),
		API: &APIConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Mode:            "release",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: &DatabaseSettings{},
	}
}

package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Inco       IncoConfig       `yaml:"inco" json:"inco"`
	Payout     PayoutConfig     `yaml:"payout" json:"payout"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL             string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs      []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID            int64    `yaml:"chain_id" json:"chain_id"`
	InvestmentContract string   `yaml:"investment_contract" json:"investment_contract"`
	PayoutContract     string   `yaml:"payout_contract" json:"payout_contract"`
	OracleContract     string   `yaml:"oracle_contract" json:"oracle_contract"`
	PrivateKey         string   `yaml:"private_key" json:"private_key"`
}

// IncoConfig INCO 机密计算服务配置
type IncoConfig struct {
	BaseURL          string `yaml:"base_url" json:"base_url"`
	APIKey           string `yaml:"api_key" json:"api_key"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	FailureThreshold int    `yaml:"failure_threshold" json:"failure_threshold"`
	CooldownSeconds  int    `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

// PayoutConfig 收益结算配置
type PayoutConfig struct {
	Program        string `yaml:"program" json:"program"`
	MaxAttempts    int    `yaml:"max_attempts" json:"max_attempts"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	// 设置默认值
	setDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "futurerent-chain"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8090
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 31337 // 本地开发
	}

	if cfg.Inco.BaseURL == "" {
		cfg.Inco.BaseURL = "https://inco.example.local"
	}
	if cfg.Inco.TimeoutSeconds == 0 {
		cfg.Inco.TimeoutSeconds = 30
	}
	if cfg.Inco.FailureThreshold == 0 {
		cfg.Inco.FailureThreshold = 5
	}
	if cfg.Inco.CooldownSeconds == 0 {
		cfg.Inco.CooldownSeconds = 60
	}

	if cfg.Payout.Program == "" {
		cfg.Payout.Program = "futureRentPayoutLogic_v1"
	}
	if cfg.Payout.MaxAttempts == 0 {
		cfg.Payout.MaxAttempts = 3
	}
	if cfg.Payout.RetryBackoffMs == 0 {
		cfg.Payout.RetryBackoffMs = 500
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

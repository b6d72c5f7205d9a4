package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 3000
}

// ChainConfig 定义区块链接入配置
type ChainConfig struct {
	RPCURL          string // 节点 RPC 地址（WebSocket 或 HTTP），默认 Monad 测试网
	ContractAddress string // EmailService 合约地址，缺失视为致命启动错误
	ChainID         int64  // 链 ID，默认 10143（Monad 测试网）
	BackfillFrom    uint64 // 启动时回放历史事件的起始区块，0 表示不回放
}

// ProviderConfig 定义上游临时邮箱服务商配置
type ProviderConfig struct {
	BaseURL string        // 服务商 API 地址，默认 "https://api.mail.tm"
	Timeout time.Duration // 单次请求超时，默认 15s
	RPS     float64       // 客户端限速（每秒请求数），默认 4
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type string // 数据库类型: "postgres" 或 "mysql"，留空使用内存存储
	DSN  string // 数据库连接字符串
}

// RedisConfig 定义 Redis 限流服务配置（可选）
type RedisConfig struct {
	Address  string // Redis 服务地址，留空表示不启用
	Password string // Redis 认证密码
	DB       int    // Redis 数据库编号
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// TaskConfig 定义后台周期任务配置
type TaskConfig struct {
	SweepInterval  time.Duration // 过期邮箱清扫间隔，默认 1h
	ReplayInterval time.Duration // 未处理事件回放间隔，默认 5m
	ReplayBatch    int           // 单次回放的事件条数上限，默认 100
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig   // HTTP 服务器配置
	Chain    ChainConfig    // 区块链接入配置
	Provider ProviderConfig // 上游服务商配置
	Log      LogConfig      // 日志配置
	Database DatabaseConfig // 数据库配置
	Redis    RedisConfig    // Redis 配置
	CORS     CORSConfig     // 跨域配置
	Task     TaskConfig     // 后台任务配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: AGENTMAIL_
// 例如: AGENTMAIL_CHAIN_CONTRACT_ADDRESS, AGENTMAIL_DATABASE_DSN
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("agentmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("chain.rpc_url", "https://testnet-rpc.monad.xyz")
	viper.SetDefault("chain.contract_address", "")
	viper.SetDefault("chain.chain_id", 10143)
	viper.SetDefault("chain.backfill_from", 0)
	viper.SetDefault("provider.base_url", "https://api.mail.tm")
	viper.SetDefault("provider.timeout", "15s")
	viper.SetDefault("provider.rps", 4.0)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("task.sweep_interval", "1h")
	viper.SetDefault("task.replay_interval", "5m")
	viper.SetDefault("task.replay_batch", 100)

	contractAddress := strings.TrimSpace(viper.GetString("chain.contract_address"))
	if contractAddress == "" {
		return nil, fmt.Errorf("chain.contract_address is required: set AGENTMAIL_CHAIN_CONTRACT_ADDRESS")
	}

	providerTimeout, err := time.ParseDuration(viper.GetString("provider.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid provider.timeout: %w", err)
	}

	sweepInterval, err := time.ParseDuration(viper.GetString("task.sweep_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid task.sweep_interval: %w", err)
	}

	replayInterval, err := time.ParseDuration(viper.GetString("task.replay_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid task.replay_interval: %w", err)
	}

	replayBatch := viper.GetInt("task.replay_batch")
	if replayBatch <= 0 {
		replayBatch = 100
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Chain: ChainConfig{
			RPCURL:          viper.GetString("chain.rpc_url"),
			ContractAddress: contractAddress,
			ChainID:         viper.GetInt64("chain.chain_id"),
			BackfillFrom:    viper.GetUint64("chain.backfill_from"),
		},
		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(viper.GetString("provider.base_url"), "/"),
			Timeout: providerTimeout,
			RPS:     viper.GetFloat64("provider.rps"),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type: viper.GetString("database.type"),
			DSN:  viper.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Task: TaskConfig{
			SweepInterval:  sweepInterval,
			ReplayInterval: replayInterval,
			ReplayBatch:    replayBatch,
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	// 尝试当前目录的 .env
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 尝试父目录的 .env
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

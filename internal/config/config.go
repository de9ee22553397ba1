package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	sshx "github.com/sshcollectorpro/netauto/pkg/ssh"
)

// EnvPrefix 环境变量前缀，如 NETAUTO_SSH_COMMAND_TIMEOUT
const EnvPrefix = "NETAUTO"

// Config 应用配置结构
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Log       logger.Config             `mapstructure:"log"`
	SSH       SSHConfig                 `mapstructure:"ssh"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
	Templates TemplatesConfig           `mapstructure:"templates"`
	Inventory InventoryConfig           `mapstructure:"inventory"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Report    ReportConfig              `mapstructure:"report"`
	Runner    RunnerConfig              `mapstructure:"runner"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SimulateEnable bool          `mapstructure:"simulate_enable"`
	SimulateConfig string        `mapstructure:"simulate_config"`
}

// SSHConfig SSH 与会话超时配置
type SSHConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	KnownHostsFile    string        `mapstructure:"known_hosts"`
	LegacyAlgorithms  bool          `mapstructure:"legacy_algorithms"`
	TermTypes         []string      `mapstructure:"term_types"`
	PromptRetries     int           `mapstructure:"prompt_retries"`
	// CaptureLogLines debug 日志中输出的首尾行数
	CaptureLogLines int `mapstructure:"capture_log_lines"`
}

// AutoInteractionConfig 自动交互项
type AutoInteractionConfig struct {
	ExpectOutput string `mapstructure:"except_output"`
	AutoSend     string `mapstructure:"command_auto_send"`
}

// PlatformConfig 平台交互覆盖项，合并到内置平台参数之上
type PlatformConfig struct {
	ExecPrompt       string `mapstructure:"exec_prompt"`
	PrivilegedPrompt string `mapstructure:"privileged_prompt"`
	ConfigPrompt     string `mapstructure:"config_prompt"`
	// Enable 提权命令与密码提示匹配
	EnableCLI          string `mapstructure:"enable_cli"`
	EnableExceptOutput string `mapstructure:"except_output"`
	// 进入配置模式命令，取第一条
	ConfigModeCLIs    []string                `mapstructure:"config_mode_clis"`
	ConfigExitCLI     string                  `mapstructure:"config_exit_cli"`
	SaveCLI           string                  `mapstructure:"save_cli"`
	BackupCLI         string                  `mapstructure:"backup_cli"`
	DisablePagingCmds []string                `mapstructure:"disable_paging_cmds"`
	AutoInteractions  []AutoInteractionConfig `mapstructure:"auto_interactions"`
	// ErrorHints 错误提示前缀，按字面量匹配且忽略大小写
	ErrorHints     []string      `mapstructure:"error_hints"`
	Charset        string        `mapstructure:"charset"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// TemplatesConfig 解析模板来源
type TemplatesConfig struct {
	// Dir 额外的模板目录（index.yaml + .textfsm）
	Dir string `mapstructure:"dir"`
	// DB 是否加载 SQLite 中的模板
	DB bool `mapstructure:"db"`
}

// InventoryConfig 设备清单来源
type InventoryConfig struct {
	// File YAML 清单文件；为空时读取数据库
	File string `mapstructure:"file"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 报表存储配置
type StorageConfig struct {
	// Backend 存储后端：console | local | minio
	Backend string `mapstructure:"backend"`
	// FallbackLocal minio 写入失败时回退到本地目录
	FallbackLocal bool               `mapstructure:"fallback_local"`
	Local         LocalStorageConfig `mapstructure:"local"`
	Minio         MinioConfig        `mapstructure:"minio"`
}

// LocalStorageConfig 本地存储配置
type LocalStorageConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	Prefix         string `mapstructure:"prefix"`
	MkdirIfMissing bool   `mapstructure:"mkdir_if_missing"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
	Prefix    string `mapstructure:"prefix"`
}

// ReportConfig 报表默认格式与文件名前缀
type ReportConfig struct {
	Format string `mapstructure:"format"`
	Prefix string `mapstructure:"prefix"`
}

// ConcurrencyProfileConfig 并发档位
type ConcurrencyProfileConfig struct {
	Concurrent int `mapstructure:"concurrent"`
}

// PoolConfig 会话池配置
type PoolConfig struct {
	MaxActive       int           `mapstructure:"max_active"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RunnerConfig 多设备执行配置
type RunnerConfig struct {
	Concurrent int `mapstructure:"concurrent"`
	// ConcurrencyProfile 并发档位：S/M/L/XL（优先级高于 concurrent 数值）
	ConcurrencyProfile  string                              `mapstructure:"concurrency_profile"`
	ConcurrencyProfiles map[string]ConcurrencyProfileConfig `mapstructure:"concurrency_profiles"`
	// Retries 建连超时后的重试次数，认证失败从不重试
	Retries             int        `mapstructure:"retries"`
	AbortOnFirstFailure bool       `mapstructure:"abort_on_first_failure"`
	Pool                PoolConfig `mapstructure:"pool"`
}

var globalConfig *Config

// Load 加载配置文件
// configPath 为空时在 ./configs 等目录查找 config.yaml，找不到则只用默认值与环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Platforms = normalizePlatforms(cfg.Platforms)
	applyConcurrencyProfile(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = &cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 300*time.Second)
	v.SetDefault("server.simulate_enable", false)
	v.SetDefault("server.simulate_config", "simulate/simulate.yaml")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/netauto.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("ssh.connect_timeout", 15*time.Second)
	// 0 表示取平台插件默认值
	v.SetDefault("ssh.idle_timeout", time.Duration(0))
	v.SetDefault("ssh.command_timeout", time.Duration(0))
	v.SetDefault("ssh.keep_alive_interval", 30*time.Second)
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.legacy_algorithms", true)
	v.SetDefault("ssh.term_types", []string{"vt100", "xterm", "ansi", "dumb"})
	v.SetDefault("ssh.prompt_retries", 2)
	v.SetDefault("ssh.capture_log_lines", 3)

	v.SetDefault("templates.dir", "")
	v.SetDefault("templates.db", false)
	v.SetDefault("inventory.file", "")

	v.SetDefault("database.sqlite.path", "./data/netauto.db")
	v.SetDefault("database.sqlite.max_idle_conns", 2)
	v.SetDefault("database.sqlite.max_open_conns", 1)
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("storage.backend", "console")
	v.SetDefault("storage.fallback_local", true)
	v.SetDefault("storage.local.base_dir", "./data/reports")
	v.SetDefault("storage.local.prefix", "")
	v.SetDefault("storage.local.mkdir_if_missing", true)
	v.SetDefault("storage.minio.host", "")
	v.SetDefault("storage.minio.port", 9000)
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "netauto")
	v.SetDefault("storage.minio.secure", false)
	v.SetDefault("storage.minio.prefix", "reports")

	v.SetDefault("report.format", "text")
	v.SetDefault("report.prefix", "report")

	v.SetDefault("runner.concurrent", 5)
	v.SetDefault("runner.concurrency_profile", "")
	v.SetDefault("runner.concurrency_profiles", map[string]map[string]int{
		"S":  {"concurrent": 8},  // 2c4g
		"M":  {"concurrent": 16}, // 4c8g
		"L":  {"concurrent": 32}, // 8c16g
		"XL": {"concurrent": 64}, // 16c32g
	})
	v.SetDefault("runner.retries", 1)
	v.SetDefault("runner.abort_on_first_failure", false)
	v.SetDefault("runner.pool.max_active", 0)
	v.SetDefault("runner.pool.idle_timeout", 2*time.Minute)
	v.SetDefault("runner.pool.cleanup_interval", 30*time.Second)
}

// Get 最近一次成功加载的配置
func Get() *Config {
	return globalConfig
}

// NormalizePlatform 平台名统一为小写下划线形式
func NormalizePlatform(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("-", "_", " ", "_").Replace(name)
}

func normalizePlatforms(in map[string]PlatformConfig) map[string]PlatformConfig {
	out := make(map[string]PlatformConfig, len(in))
	for k, v := range in {
		out[NormalizePlatform(k)] = v
	}
	return out
}

// applyConcurrencyProfile 设置了档位时覆盖 concurrent 数值
// viper 会把 map 键转为小写，查找时忽略大小写
func applyConcurrencyProfile(cfg *Config) {
	p := strings.TrimSpace(cfg.Runner.ConcurrencyProfile)
	if p == "" {
		return
	}
	for name, prof := range cfg.Runner.ConcurrencyProfiles {
		if strings.EqualFold(name, p) && prof.Concurrent > 0 {
			cfg.Runner.Concurrent = prof.Concurrent
			return
		}
	}
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Runner.Concurrent < 1 {
		return fmt.Errorf("config: runner.concurrent must be at least 1, got %d", c.Runner.Concurrent)
	}
	if c.Runner.Retries < 0 {
		return fmt.Errorf("config: runner.retries must not be negative")
	}
	if c.SSH.ConnectTimeout < 0 || c.SSH.IdleTimeout < 0 || c.SSH.CommandTimeout < 0 {
		return fmt.Errorf("config: ssh timeouts must not be negative")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "console", "local":
	case "minio":
		if c.Storage.Minio.Host == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("config: storage.minio.host and storage.minio.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	for name, pc := range c.Platforms {
		prof := pc.Apply(driver.Generic())
		if err := prof.Validate(); err != nil {
			return fmt.Errorf("config: platforms.%s: %w", name, err)
		}
	}
	return nil
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Platform 平台覆盖项
func (c *Config) Platform(name string) (PlatformConfig, bool) {
	pc, ok := c.Platforms[NormalizePlatform(name)]
	return pc, ok
}

// Client 转换为 SSH 客户端配置
func (s SSHConfig) Client() *sshx.Config {
	cfg := sshx.DefaultConfig()
	if s.ConnectTimeout > 0 {
		cfg.ConnectTimeout = s.ConnectTimeout
	}
	if s.KeepAliveInterval > 0 {
		cfg.KeepAlive = s.KeepAliveInterval
	}
	cfg.KnownHostsFile = s.KnownHostsFile
	cfg.LegacyAlgorithms = s.LegacyAlgorithms
	if len(s.TermTypes) > 0 {
		cfg.TermTypes = append([]string(nil), s.TermTypes...)
	}
	return cfg
}

// Options 会话参数；超时为 0 时沿用平台默认值
func (s SSHConfig) Options(name string, prof driver.Profile) driver.Options {
	return driver.Options{
		Name:            name,
		Profile:         prof,
		ConnectTimeout:  s.ConnectTimeout,
		IdleTimeout:     s.IdleTimeout,
		CommandTimeout:  s.CommandTimeout,
		PromptRetries:   s.PromptRetries,
		CaptureLogLines: s.CaptureLogLines,
	}
}

// Apply 将覆盖项合并到平台参数之上，返回新的副本
func (pc PlatformConfig) Apply(base driver.Profile) driver.Profile {
	p := base.Clone()
	if pc.ExecPrompt != "" {
		p.ExecPrompt = pc.ExecPrompt
	}
	if pc.PrivilegedPrompt != "" {
		p.PrivilegedPrompt = pc.PrivilegedPrompt
	}
	if pc.ConfigPrompt != "" {
		p.ConfigPrompt = pc.ConfigPrompt
	}
	if pc.EnableCLI != "" {
		p.EnableCommand = pc.EnableCLI
	}
	if pc.EnableExceptOutput != "" {
		p.EnablePasswordPrompt = pc.EnableExceptOutput
	}
	for _, cli := range pc.ConfigModeCLIs {
		if strings.TrimSpace(cli) != "" {
			p.ConfigEnterCommand = strings.TrimSpace(cli)
			break
		}
	}
	if pc.ConfigExitCLI != "" {
		p.ConfigExitCommand = pc.ConfigExitCLI
	}
	if pc.SaveCLI != "" {
		p.SaveCommand = pc.SaveCLI
	}
	if pc.BackupCLI != "" {
		p.BackupCommand = pc.BackupCLI
	}
	if len(pc.DisablePagingCmds) > 0 {
		p.PagingCommands = append([]string(nil), pc.DisablePagingCmds...)
	}
	for _, ai := range pc.AutoInteractions {
		if strings.TrimSpace(ai.ExpectOutput) == "" {
			continue
		}
		p.AutoInteractions = append(p.AutoInteractions, driver.AutoInteraction{Expect: ai.ExpectOutput, Send: ai.AutoSend})
	}
	for _, hint := range pc.ErrorHints {
		hint = strings.TrimSpace(hint)
		if hint == "" {
			continue
		}
		p.ErrorPatterns = append(p.ErrorPatterns, `(?i)^`+regexp.QuoteMeta(hint))
	}
	if pc.Charset != "" {
		p.Charset = pc.Charset
	}
	if pc.IdleTimeout > 0 {
		p.IdleTimeout = pc.IdleTimeout
	}
	if pc.CommandTimeout > 0 {
		p.CommandTimeout = pc.CommandTimeout
	}
	return p
}

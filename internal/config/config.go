package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 TACTICALDESK_DATABASE_PASSWORD
const EnvPrefix = "TACTICALDESK"

type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring" yaml:"monitoring"`
	Automation    AutomationConfig    `mapstructure:"automation" yaml:"automation"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // postgres, sqlite
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	Path            string        `mapstructure:"path" yaml:"path"` // sqlite 文件路径
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// DSN 返回当前驱动对应的连接串
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		if d.Path == "" {
			return "file:tacticaldesk.db?cache=shared"
		}
		return d.Path
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, sslMode,
	)
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MonitoringConfig struct {
	Enabled      bool               `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath  string             `mapstructure:"metrics_path" yaml:"metrics_path"`
	HealthChecks HealthChecksConfig `mapstructure:"health_checks" yaml:"health_checks"`
	Tracing      TracingConfig      `mapstructure:"tracing" yaml:"tracing"`
}

type HealthChecksConfig struct {
	Database      bool `mapstructure:"database" yaml:"database"`
	Notifications bool `mapstructure:"notifications" yaml:"notifications"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`         // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// AutomationConfig 自动化引擎配置
type AutomationConfig struct {
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout" yaml:"dispatch_timeout"`
	SeedFile        string        `mapstructure:"seed_file" yaml:"seed_file"`
}

type NotificationsConfig struct {
	Ntfy           NtfyConfig           `mapstructure:"ntfy" yaml:"ntfy"`
	SMTP           SMTPConfig           `mapstructure:"smtp" yaml:"smtp"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

// NtfyConfig 为 ntfy 集成模块未配置时的默认值
type NtfyConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	Topic      string        `mapstructure:"topic" yaml:"topic"`
	Token      string        `mapstructure:"token" yaml:"token"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// SMTPConfig 为 smtp-email 集成模块未配置时的默认值
type SMTPConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Host       string        `mapstructure:"host" yaml:"host"`
	Port       int           `mapstructure:"port" yaml:"port"`
	Username   string        `mapstructure:"username" yaml:"username"`
	Password   string        `mapstructure:"password" yaml:"password"`
	Sender     string        `mapstructure:"sender" yaml:"sender"`
	Recipients []string      `mapstructure:"recipients" yaml:"recipients"`
	UseSSL     bool          `mapstructure:"use_ssl" yaml:"use_ssl"`
	UseTLS     bool          `mapstructure:"use_tls" yaml:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type CircuitBreakerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxFailures     int           `mapstructure:"max_failures" yaml:"max_failures"`
	ResetTimeout    time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenMaxReqs int           `mapstructure:"half_open_max_requests" yaml:"half_open_max_requests"`
}

// 仅出现在环境变量中的敏感项需要显式绑定，否则 Unmarshal 看不到
var envBindings = []string{
	"database.driver",
	"database.host",
	"database.password",
	"database.path",
	"notifications.ntfy.base_url",
	"notifications.ntfy.topic",
	"notifications.ntfy.token",
	"notifications.smtp.host",
	"notifications.smtp.password",
}

// BindEnv 配置 viper 的环境变量覆盖规则
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envBindings {
		_ = v.BindEnv(key)
	}
}

// Load 以默认配置为底，叠加全局 viper 中的配置文件与环境变量
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom 从指定 viper 实例加载配置
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查无法在运行时降级处理的配置项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid database.driver %q: must be postgres or sqlite", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Notifications.SMTP.UseSSL && c.Notifications.SMTP.UseTLS {
		return fmt.Errorf("notifications.smtp: use_ssl and use_tls are mutually exclusive")
	}
	return nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "tacticaldesk",
			SSLMode:         "disable",
			Path:            "./data/tacticaldesk.db",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
			LogLevel:        "warn",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/tacticaldesk.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			HealthChecks: HealthChecksConfig{
				Database:      true,
				Notifications: true,
			},
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "tacticaldesk",
			},
		},
		Automation: AutomationConfig{
			DispatchTimeout: 30 * time.Second,
		},
		Notifications: NotificationsConfig{
			Ntfy: NtfyConfig{
				Enabled:    false,
				BaseURL:    "https://ntfy.sh",
				Timeout:    10 * time.Second,
				MaxRetries: 2,
				RetryDelay: 500 * time.Millisecond,
			},
			SMTP: SMTPConfig{
				Enabled: false,
				Port:    587,
				UseTLS:  true,
				Timeout: 15 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:         true,
				MaxFailures:     5,
				ResetTimeout:    60 * time.Second,
				HalfOpenMaxReqs: 3,
			},
		},
	}
}

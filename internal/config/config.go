package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port          string   `mapstructure:"port"`
	Mode          string   `mapstructure:"mode"`     // debug, release, test
	SiteURL       string   `mapstructure:"site_url"` // OAuth 回调地址前缀
	SessionSecret string   `mapstructure:"session_secret"`
	SecureCookies bool     `mapstructure:"secure_cookies"`
	CORSOrigins   []string `mapstructure:"cors_origins"`
	RateLimit     float64  `mapstructure:"rate_limit"` // 每 IP 每秒请求数
	RateBurst     int      `mapstructure:"rate_burst"`
	// 已有 session 重新验证 SecurityStamp 的间隔，0 表示每个请求都验证
	SessionRevalidate time.Duration `mapstructure:"session_revalidate"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"` // minio, memory
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type OAuthClient struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Enabled 未配置 client id 的提供方不会出现在登录列表里
func (c OAuthClient) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type OAuthConfig struct {
	Discord OAuthClient `mapstructure:"discord"`
	Twitter OAuthClient `mapstructure:"twitter"`
	Google  OAuthClient `mapstructure:"google"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Mode == "release" && len(c.Server.SessionSecret) < 32 {
		return errors.New("session secret should be at least 32 characters in release mode")
	}
	if c.Server.SessionSecret == "" {
		return errors.New("session secret is required")
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	switch c.Storage.Driver {
	case "memory":
	case "minio":
		if c.Storage.Endpoint == "" {
			return errors.New("storage endpoint is required for the minio driver")
		}
	default:
		return errors.New("unknown storage driver " + c.Storage.Driver)
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage bucket is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.site_url", "http://localhost:8080")
	v.SetDefault("server.session_secret", "secret_key_change_me")
	v.SetDefault("server.secure_cookies", true)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.session_revalidate", "5m")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=domination port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.bucket", "posts")
	v.SetDefault("log.level", "info")
}

// Load 读取 .env、配置文件和环境变量，环境变量优先
// 例如 SERVER_PORT 覆盖 server.port
func Load() (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AutomaticEnv 只对已知 key 生效，没有默认值的 key 需要显式绑定
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"storage.access_key", "storage.secret_key", "storage.use_ssl",
		"oauth.discord.client_id", "oauth.discord.client_secret",
		"oauth.twitter.client_id", "oauth.twitter.client_secret",
		"oauth.google.client_id", "oauth.google.client_secret",
	} {
		_ = v.BindEnv(key)
	}
	// 兼容旧的环境变量名
	_ = v.BindEnv("database.dsn", "DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("server.session_secret", "SERVER_SESSION_SECRET", "SESSION_SECRET")
	_ = v.BindEnv("server.site_url", "SERVER_SITE_URL", "SITE_URL")
}

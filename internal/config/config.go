package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrMissingSecret = errors.New("secret must be set in release mode")

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	Secret   string `mapstructure:"secret"`

	StaticPath   string `mapstructure:"static_path"`
	SettingsPath string `mapstructure:"settings_path"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	KickGrace  time.Duration `mapstructure:"kick_grace"`

	// TrustedProxies may set X-Forwarded-For; empty trusts none.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	AdmitLimit  int           `mapstructure:"admit_limit"`
	AdmitWindow time.Duration `mapstructure:"admit_window"`

	UploadDir      string        `mapstructure:"upload_dir"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`

	AdminTokenTTL time.Duration `mapstructure:"admin_token_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("static_path", "./web")
	v.SetDefault("settings_path", "config.json")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("kick_grace", "100ms")
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("admit_limit", 30)
	v.SetDefault("admit_window", "1m")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("max_upload_bytes", 100<<20)
	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("admin_token_ttl", "12h")
}

// Load reads config/config.<CONFIG_ENV>.yaml and RELAY_* environment overrides.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Mode == "release" && cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s | Settings: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath, cfg.SettingsPath)
	return &cfg, nil
}

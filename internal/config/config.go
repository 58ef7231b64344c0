package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode" env:"MODE"`
	Port       int    `mapstructure:"port" env:"PORT"`
	StaticPath string `mapstructure:"static_path" env:"STATIC_PATH"`
	Secret     string `mapstructure:"secret" env:"SECRET"`
	LogLevel   string `mapstructure:"log_level" env:"LOG_LEVEL"`
	DBPath     string `mapstructure:"db_path" env:"DB_PATH"`

	ReadLimit  int64         `mapstructure:"read_limit" env:"READ_LIMIT"`
	PingPeriod time.Duration `mapstructure:"ping_period" env:"PING_PERIOD"`
	FeedBuffer int           `mapstructure:"feed_buffer" env:"FEED_BUFFER"`

	InviteTTL   time.Duration `mapstructure:"invite_ttl" env:"INVITE_TTL"`
	SweepPeriod time.Duration `mapstructure:"sweep_period" env:"SWEEP_PERIOD"`
	CreateRate  float64       `mapstructure:"create_rate" env:"CREATE_RATE"`
	CreateBurst int           `mapstructure:"create_burst" env:"CREATE_BURST"`

	// Participant runtime.
	ServerURL       string        `mapstructure:"server_url" env:"SERVER_URL"`
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period" env:"HEARTBEAT_PERIOD"`
	TeardownGuard   time.Duration `mapstructure:"teardown_guard" env:"TEARDOWN_GUARD"`
	NavigationDelay time.Duration `mapstructure:"navigation_delay" env:"NAVIGATION_DELAY"`
	TransitionGrace time.Duration `mapstructure:"transition_grace" env:"TRANSITION_GRACE"`
	ProcessedCap    int           `mapstructure:"processed_cap" env:"PROCESSED_CAP"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	environment := os.Getenv("CONFIG_ENV")
	if environment == "" {
		environment = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", environment)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

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
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LIVECALL_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | DB: %s\n", cfg.Mode, cfg.Port, cfg.DBPath)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "./livecall.db")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("feed_buffer", 32)
	v.SetDefault("invite_ttl", "2m")
	v.SetDefault("sweep_period", "15s")
	v.SetDefault("create_rate", 1.0)
	v.SetDefault("create_burst", 3)
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("heartbeat_period", "30s")
	v.SetDefault("teardown_guard", "5s")
	v.SetDefault("navigation_delay", "300ms")
	v.SetDefault("transition_grace", "100ms")
	v.SetDefault("processed_cap", 1024)
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Session  SessionConfig  `mapstructure:"session"`
	Liveness LivenessConfig `mapstructure:"liveness"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Audio    AudioConfig    `mapstructure:"audio"`
}

type SessionConfig struct {
	MaxParticipants int           `mapstructure:"max_participants"`
	TTL             time.Duration `mapstructure:"ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type LivenessConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MissedBeats       int           `mapstructure:"missed_beats"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
}

// HeartbeatTimeout is the first phase of the two-phase liveness timeout.
func (l LivenessConfig) HeartbeatTimeout() time.Duration {
	return l.HeartbeatInterval * time.Duration(l.MissedBeats)
}

type DispatchConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type AudioConfig struct {
	AppID             string        `mapstructure:"app_id"`
	Secret            string        `mapstructure:"secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	RenewMargin       time.Duration `mapstructure:"renew_margin"`
	MaxRetries        int           `mapstructure:"max_retries"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("session.max_participants", 50)
	v.SetDefault("session.ttl", "4h")
	v.SetDefault("session.sweep_interval", "1m")

	v.SetDefault("liveness.heartbeat_interval", "10s")
	v.SetDefault("liveness.missed_beats", 3)
	v.SetDefault("liveness.grace_period", "60s")
	v.SetDefault("liveness.tick_interval", "5s")

	v.SetDefault("dispatch.queue_size", 64)

	v.SetDefault("audio.token_ttl", "1h")
	v.SetDefault("audio.renew_margin", "5m")
	v.SetDefault("audio.max_retries", 5)
	v.SetDefault("audio.reconnect_attempts", 4)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}

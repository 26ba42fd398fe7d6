// Package config loads predictcore's runtime configuration with Viper, the
// way the teacher's internal/config/config.go loads its Server/Database/
// WebSocket/Risk sections. The struct below replaces those sections with
// the tunables spec.md §6 calls out explicitly: tick size, minimum order
// quantity, starter balance, per-user order-submission rate ceiling,
// per-connection subscription-churn ceiling, idle timeout, and outbound
// buffer size.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/money"
)

// Config is the application's fully-resolved configuration.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	AdminRPC struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"admin_rpc"`

	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Bus struct {
		// Backend selects the Broadcast Bus transport: "gochannel" (the
		// in-process default) or "nats" (cross-process JetStream fan-out).
		Backend   string   `mapstructure:"backend"`
		NatsURLs  []string `mapstructure:"nats_urls"`
		TopicRoot string   `mapstructure:"topic_root"`
	} `mapstructure:"bus"`

	Gateway struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
		Path string `mapstructure:"path"`
		// IdleTimeout tears a connection down after this long without a
		// heartbeat reply (spec §4.5, §6).
		IdleTimeout time.Duration `mapstructure:"idle_timeout"`
		// OutboundBufferSize bounds the per-connection send queue; once
		// full the connection is dropped rather than blocking the bus
		// (spec §5 backpressure policy).
		OutboundBufferSize int `mapstructure:"outbound_buffer_size"`
		// SubscriptionChurnPerMinute bounds subscribe/unsubscribe calls
		// per connection per minute (spec §4.5, §6).
		SubscriptionChurnPerMinute int `mapstructure:"subscription_churn_per_minute"`
		// MinProtocolVersion/MaxProtocolVersion bound the semver range a
		// connecting client may declare at handshake.
		MinProtocolVersion string `mapstructure:"min_protocol_version"`
		MaxProtocolVersion string `mapstructure:"max_protocol_version"`
	} `mapstructure:"gateway"`

	Market struct {
		// TickSize is the smallest allowed price increment, default 0.01.
		TickSize string `mapstructure:"tick_size"`
		// MinOrderQuantity is the smallest admissible order size.
		MinOrderQuantity string `mapstructure:"min_order_quantity"`
	} `mapstructure:"market"`

	Accounts struct {
		// StarterBalance is granted once, on first balance creation for a
		// new user (spec §9 Open Question: "the correct amount is a
		// configuration parameter; the core must not hardcode it").
		StarterBalance string `mapstructure:"starter_balance"`
		// OrderSubmissionRatePerMinute is loaded here but not read by the
		// REST layer, which limits order submission to a fixed 120 requests
		// per minute per client IP (internal/api/routes.go).
		OrderSubmissionRatePerMinute int `mapstructure:"order_submission_rate_per_minute"`
	} `mapstructure:"accounts"`

	Auth struct {
		JWTSecret     string        `mapstructure:"jwt_secret"`
		TokenDuration time.Duration `mapstructure:"token_duration"`
	} `mapstructure:"auth"`

	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`

	// Resolved decimal values, derived from the string fields above once
	// on load so the hot matching path never re-parses them.
	Resolved struct {
		TickSize         money.Price
		MinOrderQuantity money.Amount
		StarterBalance   money.Amount
	} `mapstructure:"-"`
}

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("admin_rpc.host", "0.0.0.0")
	v.SetDefault("admin_rpc.port", 9090)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("bus.backend", "gochannel")
	v.SetDefault("bus.topic_root", "predictcore")
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8081)
	v.SetDefault("gateway.path", "/ws")
	v.SetDefault("gateway.idle_timeout", 60*time.Second)
	v.SetDefault("gateway.outbound_buffer_size", 256)
	v.SetDefault("gateway.subscription_churn_per_minute", 60)
	v.SetDefault("gateway.min_protocol_version", "1.0.0")
	v.SetDefault("gateway.max_protocol_version", "1.x.x")
	v.SetDefault("market.tick_size", "0.01")
	v.SetDefault("market.min_order_quantity", "1.0000")
	v.SetDefault("accounts.starter_balance", "10000.0000")
	v.SetDefault("accounts.order_submission_rate_per_minute", 120)
	v.SetDefault("auth.token_duration", 24*time.Hour)
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.log_level", "info")
}

// Load reads configuration from configPath (a directory containing
// config.yaml) merged with PREDICTCORE_-prefixed environment overrides, the
// way the teacher's LoadConfig does for its own config.yaml. Load is
// idempotent per process; subsequent calls return the first result.
func Load(configPath string) (*Config, error) {
	once.Do(func() {
		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
		}
		v.SetEnvPrefix("PREDICTCORE")
		v.AutomaticEnv()
		setDefaults(v)

		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				loadErr = fmt.Errorf("config: reading config file: %w", err)
				return
			}
		}

		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			loadErr = fmt.Errorf("config: unmarshalling: %w", err)
			return
		}

		if err := resolve(cfg); err != nil {
			loadErr = err
			return
		}

		instance = cfg
	})
	return instance, loadErr
}

func resolve(cfg *Config) error {
	tick, err := money.ParsePrice(cfg.Market.TickSize)
	if err != nil {
		return fmt.Errorf("config: market.tick_size: %w", err)
	}
	minQty, err := money.ParseAmount(cfg.Market.MinOrderQuantity)
	if err != nil {
		return fmt.Errorf("config: market.min_order_quantity: %w", err)
	}
	starter, err := money.ParseAmount(cfg.Accounts.StarterBalance)
	if err != nil {
		return fmt.Errorf("config: accounts.starter_balance: %w", err)
	}
	cfg.Resolved.TickSize = tick
	cfg.Resolved.MinOrderQuantity = minQty
	cfg.Resolved.StarterBalance = starter
	return nil
}

// NewLogger builds the Zap logger the rest of the service threads through
// constructors, matching the teacher's zap.NewProduction()/zap.NewNop()
// fallback idiom.
func NewLogger(level string) (*zap.Logger, error) {
	var zcfg zap.Config
	switch level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}
	return zcfg.Build()
}

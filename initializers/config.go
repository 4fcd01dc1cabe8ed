package initializers

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config carries all runtime configuration, sourced from the environment.
type Config struct {
	DatabaseURL    string
	JWTSecret      string
	ListenAddr     string
	TrustedProxies []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadConfig reads configuration from the environment via viper and
// validates the values the server cannot run without.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	cfg := &Config{
		DatabaseURL:    v.GetString("DATABASE_URL"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		ListenAddr:     v.GetString("LISTEN_ADDR"),
		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
	}
	for _, p := range strings.Split(v.GetString("TRUSTED_PROXIES"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.TrustedProxies = append(cfg.TrustedProxies, p)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be set and at least 32 characters")
	}
	return cfg, nil
}

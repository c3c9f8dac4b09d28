// Package config initializes application configuration via Viper and maps
// it onto a typed Settings struct. Values come from a config file, the
// SUPACRAWL_* environment, or CLI flags bound by the cmd package.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings captures every configuration knob shared by the CLI and the API
// server. The struct is decoupled from Viper so the crawler stays testable
// without global state.
type Settings struct {
	UserAgent      string
	Development    bool
	CacheDir       string
	CacheTTL       time.Duration
	RequestTimeout time.Duration
	RenderTimeout  time.Duration
	RenderEnabled  bool
	RenderWorkers  int
	Concurrency    int
	ListenAddr     string
}

// Init registers defaults, environment binding, and the optional config
// file with the supplied Viper instance. Call once at startup.
func Init(v *viper.Viper) {
	v.SetConfigName("supacrawl")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.supacrawl")

	v.SetDefault("crawler.user_agent", "supacrawl/1.0 (+https://github.com/supacrawl/supacrawl)")
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.render_timeout", "30s")
	v.SetDefault("crawler.render_enabled", false)
	v.SetDefault("crawler.render_workers", 2)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("server.listen_addr", ":8090")
	v.SetDefault("log.development", false)

	v.SetEnvPrefix("SUPACRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; defaults and env cover everything.
	_ = v.ReadInConfig()
}

// Load reads Settings out of Viper and validates them.
func Load(v *viper.Viper) (Settings, error) {
	s := Settings{
		UserAgent:      v.GetString("crawler.user_agent"),
		Development:    v.GetBool("log.development"),
		CacheDir:       v.GetString("cache.dir"),
		CacheTTL:       v.GetDuration("cache.ttl"),
		RequestTimeout: v.GetDuration("crawler.request_timeout"),
		RenderTimeout:  v.GetDuration("crawler.render_timeout"),
		RenderEnabled:  v.GetBool("crawler.render_enabled"),
		RenderWorkers:  v.GetInt("crawler.render_workers"),
		Concurrency:    v.GetInt("crawler.concurrency"),
		ListenAddr:     v.GetString("server.listen_addr"),
	}
	return s, s.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (s Settings) Validate() error {
	if s.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if s.RenderTimeout <= 0 {
		return fmt.Errorf("crawler.render_timeout must be > 0")
	}
	if s.RenderEnabled && s.RenderWorkers <= 0 {
		return fmt.Errorf("crawler.render_workers must be > 0 when rendering is enabled")
	}
	if s.CacheTTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0")
	}
	return nil
}

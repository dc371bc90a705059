package main

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
)

// serverConfig is the daemon-level configuration. Engine knobs nest under
// `engine` and decode through the engine's own loader. Layering order is
// defaults, then file, then environment; envconfig tags carry no defaults
// so an unset variable never clobbers a file value.
type serverConfig struct {
	Addr     string `yaml:"addr" envconfig:"REALTIME_ADDR"`
	Storage  string `yaml:"storage" envconfig:"REALTIME_STORAGE"`
	DSN      string `yaml:"dsn" envconfig:"REALTIME_DSN"`
	LogLevel string `yaml:"log_level" envconfig:"REALTIME_LOG_LEVEL"`

	// Sender picks the push provider: console, webhook, or none.
	Sender     string `yaml:"sender" envconfig:"REALTIME_SENDER"`
	WebhookURL string `yaml:"webhook_url" envconfig:"REALTIME_WEBHOOK_URL"`

	// Tokens and Topics form a static auth and membership table for
	// development; production deployments plug the host application's
	// validator and directory instead.
	Tokens map[string]string   `yaml:"tokens"`
	Topics map[string][]string `yaml:"topics"`

	Engine map[string]any `yaml:"engine"`
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		Addr:     ":8080",
		Storage:  "sqlite",
		DSN:      "file:realtime.db?cache=shared",
		LogLevel: "info",
		Sender:   "console",
	}
}

func loadServerConfig(path string) (*serverConfig, config.Config, error) {
	cfg := defaultServerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, config.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, config.Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, config.Config{}, fmt.Errorf("process environment: %w", err)
	}

	var engineInput any
	if len(cfg.Engine) > 0 {
		engineInput = cfg.Engine
	}
	engine, err := config.Load(engineInput)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, engine, nil
}

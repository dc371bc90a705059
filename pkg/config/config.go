package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/goliatone/go-config/cfgx"
)

// Config captures engine-level configuration knobs. Feature packages (hub,
// presence, dispatcher, eventlog) pull from these nested structs.
type Config struct {
	Hub        HubConfig        `mapstructure:"hub" json:"hub"`
	Presence   PresenceConfig   `mapstructure:"presence" json:"presence"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" json:"dispatcher"`
	Log        LogConfig        `mapstructure:"log" json:"log"`
}

// HubConfig bounds per-connection buffering and liveness.
type HubConfig struct {
	// SendBuffer is the per-connection outbound queue capacity. When the
	// queue saturates the oldest non-critical frame is dropped and a gap
	// marker recorded.
	SendBuffer        int           `mapstructure:"send_buffer" json:"send_buffer"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
}

// PresenceConfig controls grace windows and the stale-entry sweep.
type PresenceConfig struct {
	// GraceWindow delays marking an identity offline after its last
	// connection closes, absorbing rapid reconnects from network flaps.
	GraceWindow   time.Duration `mapstructure:"grace_window" json:"grace_window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
	// StaleAfter evicts entries whose connections produced no heartbeat
	// within this window, even if the disconnect signal was lost.
	StaleAfter time.Duration `mapstructure:"stale_after" json:"stale_after"`
	Shards     int           `mapstructure:"shards" json:"shards"`
}

// DispatcherConfig governs the durable push delivery workers. Delivery is
// on by default; Disabled turns Enqueue into a no-op.
type DispatcherConfig struct {
	Disabled     bool          `mapstructure:"disabled" json:"disabled"`
	MaxWorkers   int           `mapstructure:"max_workers" json:"max_workers"`
	MaxAttempts  int           `mapstructure:"max_attempts" json:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff" json:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff" json:"max_backoff"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	// Coalesce merges queued jobs for one identity inside the window into a
	// single summary push. It changes user-visible behavior, so it is an
	// explicit opt-in rather than a heuristic.
	Coalesce       bool          `mapstructure:"coalesce" json:"coalesce"`
	CoalesceWindow time.Duration `mapstructure:"coalesce_window" json:"coalesce_window"`
}

// LogConfig bounds event retention for replay.
type LogConfig struct {
	// RetainCount keeps at most this many events per topic; 0 disables the
	// count bound.
	RetainCount int `mapstructure:"retain_count" json:"retain_count"`
	// RetainAge prunes events older than this; 0 disables the age bound.
	RetainAge time.Duration `mapstructure:"retain_age" json:"retain_age"`
	// ReplayPage caps how many events a single replay read returns.
	ReplayPage int `mapstructure:"replay_page" json:"replay_page"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Hub: HubConfig{
			SendBuffer:        256,
			HandshakeTimeout:  5 * time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
		Presence: PresenceConfig{
			GraceWindow:   10 * time.Second,
			SweepInterval: 15 * time.Second,
			StaleAfter:    90 * time.Second,
			Shards:        32,
		},
		Dispatcher: DispatcherConfig{
			MaxWorkers:     4,
			MaxAttempts:    5,
			BaseBackoff:    time.Second,
			MaxBackoff:     5 * time.Minute,
			PollInterval:   time.Second,
			Coalesce:       false,
			CoalesceWindow: 30 * time.Second,
		},
		Log: LogConfig{
			RetainCount: 10000,
			RetainAge:   72 * time.Hour,
			ReplayPage:  500,
		},
	}
}

// Validate ensures required fields are present and sane.
func (c *Config) Validate() error {
	if c.Hub.SendBuffer <= 0 {
		return errors.New("hub.send_buffer must be > 0")
	}
	if c.Hub.HandshakeTimeout <= 0 {
		return errors.New("hub.handshake_timeout must be > 0")
	}
	if c.Presence.Shards <= 0 {
		return fmt.Errorf("presence.shards must be > 0")
	}
	if c.Presence.StaleAfter <= c.Presence.GraceWindow {
		return fmt.Errorf("presence.stale_after must exceed presence.grace_window")
	}
	if c.Dispatcher.MaxWorkers <= 0 {
		return fmt.Errorf("dispatcher.max_workers must be > 0")
	}
	if c.Dispatcher.MaxAttempts <= 0 {
		return fmt.Errorf("dispatcher.max_attempts must be > 0")
	}
	if c.Dispatcher.Coalesce && c.Dispatcher.CoalesceWindow <= 0 {
		return fmt.Errorf("dispatcher.coalesce_window must be > 0 when coalescing is enabled")
	}
	if c.Log.ReplayPage <= 0 {
		return fmt.Errorf("log.replay_page must be > 0")
	}
	return nil
}

// Load decodes arbitrary input (struct, map) using cfgx helpers, falling
// back to a lightweight JSON round-trip decoder for plain maps.
func Load(input any, opts ...LoadOption) (Config, error) {
	settings := loadOptions{}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := cfgx.Build(input, settings.buildOpts...)
	if err != nil {
		return Config{}, err
	}

	if isZero(cfg) {
		if err := decodeFallback(input, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOption lets callers amend cfgx build options.
type LoadOption func(*loadOptions)

type loadOptions struct {
	buildOpts []cfgx.Option[Config]
}

// WithBuildOptions forwards cfgx options (duration hooks, preprocessors, etc.).
func WithBuildOptions(opts ...cfgx.Option[Config]) LoadOption {
	return func(lo *loadOptions) {
		lo.buildOpts = append(lo.buildOpts, opts...)
	}
}

func (c Config) withDefaults() Config {
	defaults := Defaults()

	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = defaults.Hub.SendBuffer
	}
	if c.Hub.HandshakeTimeout == 0 {
		c.Hub.HandshakeTimeout = defaults.Hub.HandshakeTimeout
	}
	if c.Hub.HeartbeatInterval == 0 {
		c.Hub.HeartbeatInterval = defaults.Hub.HeartbeatInterval
	}
	if c.Presence.GraceWindow == 0 {
		c.Presence.GraceWindow = defaults.Presence.GraceWindow
	}
	if c.Presence.SweepInterval == 0 {
		c.Presence.SweepInterval = defaults.Presence.SweepInterval
	}
	if c.Presence.StaleAfter == 0 {
		c.Presence.StaleAfter = defaults.Presence.StaleAfter
	}
	if c.Presence.Shards == 0 {
		c.Presence.Shards = defaults.Presence.Shards
	}
	if c.Dispatcher.MaxWorkers == 0 {
		c.Dispatcher.MaxWorkers = defaults.Dispatcher.MaxWorkers
	}
	if c.Dispatcher.MaxAttempts == 0 {
		c.Dispatcher.MaxAttempts = defaults.Dispatcher.MaxAttempts
	}
	if c.Dispatcher.BaseBackoff == 0 {
		c.Dispatcher.BaseBackoff = defaults.Dispatcher.BaseBackoff
	}
	if c.Dispatcher.MaxBackoff == 0 {
		c.Dispatcher.MaxBackoff = defaults.Dispatcher.MaxBackoff
	}
	if c.Dispatcher.PollInterval == 0 {
		c.Dispatcher.PollInterval = defaults.Dispatcher.PollInterval
	}
	if c.Dispatcher.CoalesceWindow == 0 {
		c.Dispatcher.CoalesceWindow = defaults.Dispatcher.CoalesceWindow
	}
	if c.Log.RetainCount == 0 {
		c.Log.RetainCount = defaults.Log.RetainCount
	}
	if c.Log.RetainAge == 0 {
		c.Log.RetainAge = defaults.Log.RetainAge
	}
	if c.Log.ReplayPage == 0 {
		c.Log.ReplayPage = defaults.Log.ReplayPage
	}
	return c
}

func isZero(cfg Config) bool {
	return reflect.DeepEqual(cfg, Config{})
}

func decodeFallback(input any, cfg *Config) error {
	switch v := input.(type) {
	case nil:
		return nil
	case Config:
		*cfg = v
		return nil
	case *Config:
		if v != nil {
			*cfg = *v
		}
		return nil
	case map[string]any:
		return decodeMap(v, cfg)
	default:
		return fmt.Errorf("unsupported config input type: %T", input)
	}
}

func decodeMap(input map[string]any, cfg *Config) error {
	if input == nil {
		return nil
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, cfg)
}

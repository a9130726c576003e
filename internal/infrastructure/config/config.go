package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/family-mruby/fmruby-core/internal/infrastructure/logging"
	"github.com/family-mruby/fmruby-core/internal/shared/paths"
)

// EnvPrefix prefixes every environment variable, e.g. FMRB_KERNEL_TICK_MS
const EnvPrefix = "FMRB"

// DefaultSystemConf is where the system configuration file lives on device
const DefaultSystemConf = paths.SystemConf

// Config holds all kernel configuration.
//
// Values come from Default, then the TOML system file, then the
// environment. Struct tags carry no envconfig defaults so unset variables
// never clobber file values.
type Config struct {
	SystemName string `toml:"system_name" envconfig:"SYSTEM_NAME"`
	DebugMode  bool   `toml:"debug_mode" envconfig:"DEBUG_MODE"`
	LogLevel   string `toml:"log_level" envconfig:"LOG_LEVEL"`

	Kernel KernelConfig `toml:"kernel"`
	Window WindowConfig `toml:"window"`
	Host   HostConfig   `toml:"host"`
	Admin  AdminConfig  `toml:"admin"`

	// SourceFile is the system file that was applied, empty when none
	SourceFile string `toml:"-" ignored:"true"`
}

// KernelConfig holds loop and process table settings.
type KernelConfig struct {
	TickMS             int      `toml:"tick_ms" envconfig:"TICK_MS"`
	MaxApps            int      `toml:"max_apps" envconfig:"MAX_APPS"`
	InitialApps        []string `toml:"initial_apps" envconfig:"INITIAL_APPS"`
	HandshakeTimeoutMS int      `toml:"handshake_timeout_ms" envconfig:"HANDSHAKE_TIMEOUT_MS"`
	Codec              string   `toml:"codec" envconfig:"CODEC"`
	SpawnRate          float64  `toml:"spawn_rate" envconfig:"SPAWN_RATE"`
	SpawnBurst         int      `toml:"spawn_burst" envconfig:"SPAWN_BURST"`
	StatsWindow        int      `toml:"stats_window" envconfig:"STATS_WINDOW"`
	InboxLimit         int      `toml:"inbox_limit" envconfig:"INBOX_LIMIT"`
}

// WindowConfig holds geometry defaults and input hot zones.
type WindowConfig struct {
	MinWidth       int `toml:"min_width" envconfig:"MIN_WIDTH"`
	MinHeight      int `toml:"min_height" envconfig:"MIN_HEIGHT"`
	TitleBarHeight int `toml:"title_bar_height" envconfig:"TITLE_BAR_HEIGHT"`
	ResizeHandle   int `toml:"resize_handle" envconfig:"RESIZE_HANDLE"`
	DefaultX       int `toml:"default_x" envconfig:"DEFAULT_X"`
	DefaultY       int `toml:"default_y" envconfig:"DEFAULT_Y"`
	DefaultWidth   int `toml:"default_width" envconfig:"DEFAULT_WIDTH"`
	DefaultHeight  int `toml:"default_height" envconfig:"DEFAULT_HEIGHT"`
	Cascade        int `toml:"cascade" envconfig:"CASCADE"`
}

// HostConfig selects and tunes the process host.
type HostConfig struct {
	Mode              string `toml:"mode" envconfig:"MODE"` // "local" or "link"
	LinkURL           string `toml:"link_url" envconfig:"LINK_URL"`
	ListenAddr        string `toml:"listen_addr" envconfig:"LISTEN_ADDR"`
	AppsDir           string `toml:"apps_dir" envconfig:"APPS_DIR"`
	MailboxSize       int    `toml:"mailbox_size" envconfig:"MAILBOX_SIZE"`
	ScriptTimeoutMS   int    `toml:"script_timeout_ms" envconfig:"SCRIPT_TIMEOUT_MS"`
	CompressThreshold int    `toml:"compress_threshold" envconfig:"COMPRESS_THRESHOLD"`
	RequestTimeoutMS  int    `toml:"request_timeout_ms" envconfig:"REQUEST_TIMEOUT_MS"`
}

// AdminConfig holds the admin HTTP API settings.
type AdminConfig struct {
	Enabled          bool     `toml:"enabled" envconfig:"ENABLED"`
	Addr             string   `toml:"addr" envconfig:"ADDR"`
	SubmitTimeoutMS  int      `toml:"submit_timeout_ms" envconfig:"SUBMIT_TIMEOUT_MS"`
	RateLimitEnabled bool     `toml:"rate_limit_enabled" envconfig:"RATE_LIMIT_ENABLED"`
	RateLimitRPS     float64  `toml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst   int      `toml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
	CORSOrigins      []string `toml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

// Host modes
const (
	HostLocal = "local"
	HostLink  = "link"
)

// Default returns default configuration.
func Default() *Config {
	return &Config{
		SystemName: "Family mruby OS",
		LogLevel:   "info",
		Kernel: KernelConfig{
			TickMS:             16,
			MaxApps:            14,
			InitialApps:        []string{"system/gui_app"},
			HandshakeTimeoutMS: 5000,
			Codec:              "msgpack",
			SpawnRate:          2,
			SpawnBurst:         4,
			StatsWindow:        256,
			InboxLimit:         1024,
		},
		Window: WindowConfig{
			MinWidth:       50,
			MinHeight:      50,
			TitleBarHeight: 11,
			ResizeHandle:   10,
			DefaultX:       20,
			DefaultY:       20,
			DefaultWidth:   200,
			DefaultHeight:  150,
			Cascade:        16,
		},
		Host: HostConfig{
			Mode:              HostLocal,
			LinkURL:           "ws://localhost:7070/link",
			ListenAddr:        ":7070",
			AppsDir:           "./apps",
			MailboxSize:       10,
			ScriptTimeoutMS:   200,
			CompressThreshold: 256,
			RequestTimeoutMS:  3000,
		},
		Admin: AdminConfig{
			Enabled:          true,
			Addr:             "127.0.0.1:8700",
			SubmitTimeoutMS:  1000,
			RateLimitEnabled: true,
			RateLimitRPS:     50,
			RateLimitBurst:   100,
			CORSOrigins:      []string{"*"},
		},
	}
}

// Load builds configuration from defaults, the TOML file at path and the
// environment. A missing file is not an error; SourceFile stays empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or falls back to defaults.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	c.SourceFile = path
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Kernel.TickMS <= 0:
		return fmt.Errorf("kernel.tick_ms must be positive, got %d", c.Kernel.TickMS)
	case c.Kernel.MaxApps <= 0:
		return fmt.Errorf("kernel.max_apps must be positive, got %d", c.Kernel.MaxApps)
	case c.Kernel.HandshakeTimeoutMS <= 0:
		return fmt.Errorf("kernel.handshake_timeout_ms must be positive, got %d", c.Kernel.HandshakeTimeoutMS)
	case c.Window.MinWidth <= 0 || c.Window.MinHeight <= 0:
		return fmt.Errorf("window minimum size must be positive, got %dx%d", c.Window.MinWidth, c.Window.MinHeight)
	case c.Host.MailboxSize <= 0:
		return fmt.Errorf("host.mailbox_size must be positive, got %d", c.Host.MailboxSize)
	}

	switch c.Kernel.Codec {
	case "msgpack", "json":
	default:
		return fmt.Errorf("kernel.codec must be msgpack or json, got %q", c.Kernel.Codec)
	}

	switch c.Host.Mode {
	case HostLocal, HostLink:
	default:
		return fmt.Errorf("host.mode must be %s or %s, got %q", HostLocal, HostLink, c.Host.Mode)
	}
	return nil
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if c.DebugMode {
		cfg = logging.DevelopmentConfig()
	}
	if c.LogLevel != "" {
		cfg.Level = c.LogLevel
	}
	return cfg
}

// Tick returns the kernel tick interval.
func (k KernelConfig) Tick() time.Duration {
	return time.Duration(k.TickMS) * time.Millisecond
}

// HandshakeTimeout returns the startup handshake deadline.
func (k KernelConfig) HandshakeTimeout() time.Duration {
	return time.Duration(k.HandshakeTimeoutMS) * time.Millisecond
}

// ScriptTimeout returns the per-callback budget for script apps.
func (h HostConfig) ScriptTimeout() time.Duration {
	return time.Duration(h.ScriptTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the link request deadline.
func (h HostConfig) RequestTimeout() time.Duration {
	return time.Duration(h.RequestTimeoutMS) * time.Millisecond
}

// SubmitTimeout returns how long admin handlers wait for the kernel.
func (a AdminConfig) SubmitTimeout() time.Duration {
	return time.Duration(a.SubmitTimeoutMS) * time.Millisecond
}

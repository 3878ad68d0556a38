// Package config handles daemon configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level static configuration. Maps to the `vswitch:`
// root key in YAML.
type Config struct {
	Switch  SwitchConfig  `mapstructure:"switch"`
	Ports   []PortConfig  `mapstructure:"ports"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// configRoot wraps Config under the `vswitch:` YAML key.
type configRoot struct {
	Vswitch Config `mapstructure:"vswitch"`
}

// SwitchConfig identifies the switch instance.
type SwitchConfig struct {
	Name  string `mapstructure:"name"`
	Netns string `mapstructure:"netns"` // display name only; empty = "default"
}

// PortConfig describes one port to attach at startup.
type PortConfig struct {
	Name     string            `mapstructure:"name"`
	Type     string            `mapstructure:"type"` // netdev | internal
	PortNo   uint32            `mapstructure:"port_no"`
	UpcallID uint32            `mapstructure:"upcall_id"`
	Options  map[string]string `mapstructure:"options"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level   string        `mapstructure:"level"`  // debug | info | warn | error
	Format  string        `mapstructure:"format"` // json | text
	Outputs OutputsConfig `mapstructure:"outputs"`
}

// OutputsConfig lists log destinations; stdout is always on.
type OutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures the rotating log file.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Load reads, validates, and defaults the configuration at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides: key "vswitch.log.level" maps to
	// env "VSWITCH_LOG_LEVEL" via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Vswitch

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vswitch.switch.name", "vswitch0")
	v.SetDefault("vswitch.switch.netns", "default")
	v.SetDefault("vswitch.metrics.enabled", true)
	v.SetDefault("vswitch.metrics.listen", "127.0.0.1:9099")
	v.SetDefault("vswitch.metrics.path", "/metrics")
	v.SetDefault("vswitch.log.level", "info")
	v.SetDefault("vswitch.log.format", "text")
}

func (c *Config) validate() error {
	if c.Switch.Name == "" {
		return fmt.Errorf("switch.name must not be empty")
	}
	seenNames := map[string]bool{}
	seenNos := map[uint32]bool{}
	for i, p := range c.Ports {
		if p.Name == "" {
			return fmt.Errorf("ports[%d].name must not be empty", i)
		}
		switch p.Type {
		case "netdev", "internal":
		default:
			return fmt.Errorf("ports[%d].type %q is not a known port type", i, p.Type)
		}
		if p.PortNo == 0 {
			return fmt.Errorf("ports[%d].port_no must be set", i)
		}
		if seenNames[p.Name] {
			return fmt.Errorf("duplicate port name %q", p.Name)
		}
		if seenNos[p.PortNo] {
			return fmt.Errorf("duplicate port_no %d", p.PortNo)
		}
		seenNames[p.Name] = true
		seenNos[p.PortNo] = true
	}
	return nil
}

// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bnema/wayime/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Seat     SeatConfig     `mapstructure:"seat"`
	Keyboard KeyboardConfig `mapstructure:"keyboard"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Trace    TraceConfig    `mapstructure:"trace"`
}

// SeatConfig names the seat input methods bind to
type SeatConfig struct {
	Name string `mapstructure:"name"`
}

// KeyboardConfig describes the seat keyboard mirrored to keyboard grabs
type KeyboardConfig struct {
	KeymapFile  string `mapstructure:"keymap_file"`  // XKB keymap text file, empty for the built-in US layout
	RepeatRate  int32  `mapstructure:"repeat_rate"`  // keys per second, 0 disables repeat
	RepeatDelay int32  `mapstructure:"repeat_delay"` // milliseconds
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

// TraceConfig controls the binary event trace written by replay
type TraceConfig struct {
	Path string `mapstructure:"path"`
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Seat: SeatConfig{
			Name: "seat0",
		},
		Keyboard: KeyboardConfig{
			KeymapFile:  "",
			RepeatRate:  25,
			RepeatDelay: 600,
		},
		Logging: LoggingConfig{
			LogLevel: "",
		},
		Trace: TraceConfig{
			Path: "",
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("wayime")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "wayime"))
		}
		viper.AddConfigPath("/etc/wayime")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("WAYIME")
	viper.AutomaticEnv()

	viper.SetDefault("seat.name", DefaultConfig.Seat.Name)
	viper.SetDefault("keyboard.keymap_file", DefaultConfig.Keyboard.KeymapFile)
	viper.SetDefault("keyboard.repeat_rate", DefaultConfig.Keyboard.RepeatRate)
	viper.SetDefault("keyboard.repeat_delay", DefaultConfig.Keyboard.RepeatDelay)
	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)
	viper.SetDefault("trace.path", DefaultConfig.Trace.Path)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	next := &Config{}
	if err := viper.Unmarshal(next); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	cfg = next

	if cfg.Logging.LogLevel != "" {
		logger.SetLevel(cfg.Logging.LogLevel)
	}
	return nil
}

// Validate rejects values the keyboard model cannot represent
func (c *Config) Validate() error {
	if c.Seat.Name == "" {
		return fmt.Errorf("invalid config: seat.name is empty")
	}
	if c.Keyboard.RepeatRate < 0 {
		return fmt.Errorf("invalid config: keyboard.repeat_rate %d is negative", c.Keyboard.RepeatRate)
	}
	if c.Keyboard.RepeatDelay < 0 {
		return fmt.Errorf("invalid config: keyboard.repeat_delay %d is negative", c.Keyboard.RepeatDelay)
	}
	return nil
}

// LoadKeymap returns the configured keymap text, or "" for the built-in one
func (c *Config) LoadKeymap() (string, error) {
	if c.Keyboard.KeymapFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Keyboard.KeymapFile)
	if err != nil {
		return "", fmt.Errorf("failed to read keymap: %w", err)
	}
	return string(data), nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Watch calls onChange with the reloaded configuration every time the config
// file is written. onChange runs on the watcher goroutine; invalid files are
// logged and skipped.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next := &Config{}
		if err := viper.Unmarshal(next); err != nil {
			logger.Errorf("Config reload failed: %v", err)
			return
		}
		if err := next.Validate(); err != nil {
			logger.Errorf("Config reload rejected: %v", err)
			return
		}
		logger.Infof("Config reloaded from %s", e.Name)
		onChange(next)
	})
	viper.WatchConfig()
}

// Exists reports whether the config file is present on disk.
func Exists() bool {
	_, err := os.Stat(GetConfigPath())
	return err == nil
}

// Save writes the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	c := Get()
	viper.Set("seat.name", c.Seat.Name)
	viper.Set("keyboard.keymap_file", c.Keyboard.KeymapFile)
	viper.Set("keyboard.repeat_rate", c.Keyboard.RepeatRate)
	viper.Set("keyboard.repeat_delay", c.Keyboard.RepeatDelay)
	viper.Set("logging.log_level", c.Logging.LogLevel)
	viper.Set("trace.path", c.Trace.Path)

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "/etc/wayime/wayime.toml"
	}
	return filepath.Join(dir, "wayime", "wayime.toml")
}

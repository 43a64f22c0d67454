package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides
// (MACROEXPAND_TOOL_TIMEOUT overrides tool.timeout).
const EnvPrefix = "MACROEXPAND"

// Config represents the complete macroexpand configuration
type Config struct {
	Settings  Settings        `mapstructure:"settings"`
	Tool      ToolConfig      `mapstructure:"tool"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Viewer    ViewerConfig    `mapstructure:"viewer"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Server    ServerConfig    `mapstructure:"server"`
	History   HistoryConfig   `mapstructure:"history"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Settings are the user-facing flags that shape rendered artifacts and
// save behavior. They are the only part of the configuration a running
// session store swaps at runtime.
type Settings struct {
	// DisplayCargoCommand includes the "// Expand command:" header line
	DisplayCargoCommand bool `mapstructure:"display_cargo_command"`
	// DisplayCargoCommandPath includes the "// Executed in:" header line
	DisplayCargoCommandPath bool `mapstructure:"display_cargo_command_path"`
	// DisplayTimestamp includes the "// Timestamp:" header line
	DisplayTimestamp bool `mapstructure:"display_timestamp"`
	// DisplayWarnings puts the tool's warnings in a comment block at the top of the body
	DisplayWarnings bool `mapstructure:"display_warnings"`
	// NotifyWarnings raises a notification when the tool reported warnings
	NotifyWarnings bool `mapstructure:"notify_warnings"`
	// ExpandOnSave re-renders a tracked document whenever it is saved
	ExpandOnSave bool `mapstructure:"expand_on_save"`
}

// ToolConfig describes the external expansion tool
type ToolConfig struct {
	// Command is the tool invocation without flags (default: "cargo expand")
	Command string `mapstructure:"command"`
	// Flags are appended after Command (default: "--silent")
	Flags string `mapstructure:"flags"`
	// Timeout bounds a single run; 0 disables the deadline
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkspaceConfig controls where ephemeral workspaces are created
type WorkspaceConfig struct {
	// TempDir is the parent directory for workspaces ("" uses os.TempDir())
	TempDir string `mapstructure:"temp_dir"`
	// Prefix starts every workspace directory name
	Prefix string `mapstructure:"prefix"`
}

// RegistryConfig controls the project registration list
type RegistryConfig struct {
	// SettingsFile is an editor settings JSON file; "" keeps the list in memory
	SettingsFile string `mapstructure:"settings_file"`
	// Key is the JSON key holding the list of manifests
	Key string `mapstructure:"key"`
}

// ViewerConfig controls how artifacts are presented
type ViewerConfig struct {
	// OpenCommand is run with the artifact path appended ("" prints the path)
	OpenCommand string `mapstructure:"open_command"`
	// TimestampFormat is a Go time layout for the header timestamp
	TimestampFormat string `mapstructure:"timestamp_format"`
}

// WatchConfig controls save detection in watch mode
type WatchConfig struct {
	// DebounceMs coalesces bursts of write events (default: 100)
	DebounceMs int `mapstructure:"debounce_ms"`
}

// ServerConfig controls the HTTP control API
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:7878)
	Addr string `mapstructure:"addr"`
}

// HistoryConfig controls the render history database
type HistoryConfig struct {
	// Enabled records every render
	Enabled bool `mapstructure:"enabled"`
	// Path is the SQLite file ("" uses <config dir>/history.sqlite)
	Path string `mapstructure:"path"`
	// Limit is the default number of rows listed by `history`
	Limit int `mapstructure:"limit"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum size of a single log file in megabytes (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated backup files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// DebounceInterval returns the watch debounce as a time.Duration
func (c *WatchConfig) DebounceInterval() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// ResolveTempDir returns the configured parent directory for workspaces,
// expanding a leading ~ and falling back to os.TempDir().
func (c *WorkspaceConfig) ResolveTempDir() string {
	if c.TempDir == "" {
		return os.TempDir()
	}
	return expandHome(c.TempDir)
}

// ResolveSettingsFile returns the registry settings file, expanding a
// leading ~.
func (c *RegistryConfig) ResolveSettingsFile() string {
	return expandHome(c.SettingsFile)
}

// ResolvePath returns the history database path.
func (c *HistoryConfig) ResolvePath() string {
	if c.Path == "" {
		return filepath.Join(ConfigDir(), "history.sqlite")
	}
	return expandHome(c.Path)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// DefaultSettings returns the settings used before any configuration is read
func DefaultSettings() Settings {
	return Settings{
		DisplayCargoCommand:     true,
		DisplayCargoCommandPath: true,
		DisplayTimestamp:        true,
		DisplayWarnings:         false,
		NotifyWarnings:          false,
		ExpandOnSave:            true,
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Settings: DefaultSettings(),
		Tool: ToolConfig{
			Command: "cargo expand",
			Flags:   "--silent",
			Timeout: 0,
		},
		Workspace: WorkspaceConfig{
			TempDir: "",
			Prefix:  "rust-macro-expand-",
		},
		Registry: RegistryConfig{
			SettingsFile: "",
			Key:          "rust-analyzer.linkedProjects",
		},
		Viewer: ViewerConfig{
			OpenCommand:     "",
			TimestampFormat: "2006-01-02 15:04:05",
		},
		Watch: WatchConfig{
			DebounceMs: 100,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7878",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "",
			Limit:   50,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with the global viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Settings defaults
	v.SetDefault("settings.display_cargo_command", defaults.Settings.DisplayCargoCommand)
	v.SetDefault("settings.display_cargo_command_path", defaults.Settings.DisplayCargoCommandPath)
	v.SetDefault("settings.display_timestamp", defaults.Settings.DisplayTimestamp)
	v.SetDefault("settings.display_warnings", defaults.Settings.DisplayWarnings)
	v.SetDefault("settings.notify_warnings", defaults.Settings.NotifyWarnings)
	v.SetDefault("settings.expand_on_save", defaults.Settings.ExpandOnSave)

	// Tool defaults
	v.SetDefault("tool.command", defaults.Tool.Command)
	v.SetDefault("tool.flags", defaults.Tool.Flags)
	v.SetDefault("tool.timeout", defaults.Tool.Timeout)

	// Workspace defaults
	v.SetDefault("workspace.temp_dir", defaults.Workspace.TempDir)
	v.SetDefault("workspace.prefix", defaults.Workspace.Prefix)

	// Registry defaults
	v.SetDefault("registry.settings_file", defaults.Registry.SettingsFile)
	v.SetDefault("registry.key", defaults.Registry.Key)

	// Viewer defaults
	v.SetDefault("viewer.open_command", defaults.Viewer.OpenCommand)
	v.SetDefault("viewer.timestamp_format", defaults.Viewer.TimestampFormat)

	v.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)
	v.SetDefault("server.addr", defaults.Server.Addr)

	// History defaults
	v.SetDefault("history.enabled", defaults.History.Enabled)
	v.SetDefault("history.path", defaults.History.Path)
	v.SetDefault("history.limit", defaults.History.Limit)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "macroexpand")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".macroexpand"
	}
	return filepath.Join(home, ".config", "macroexpand")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateDir returns where logs are written
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "macroexpand")
	}
	return ConfigDir()
}

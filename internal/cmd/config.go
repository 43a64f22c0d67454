package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/macroexpand/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify macroexpand configuration",
	Long: `View or modify macroexpand configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  macroexpand config set settings.expand_on_save false
  macroexpand config set tool.timeout 30s
  macroexpand config set registry.settings_file ~/project/.vscode/settings.json

Run 'macroexpand config show' to list every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/macroexpand/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

type keyKind int

const (
	kindString keyKind = iota
	kindBool
	kindInt
	kindDuration
)

// settableKeys lists the keys accepted by 'config set'.
var settableKeys = map[string]keyKind{
	"settings.display_cargo_command":      kindBool,
	"settings.display_cargo_command_path": kindBool,
	"settings.display_timestamp":          kindBool,
	"settings.display_warnings":           kindBool,
	"settings.notify_warnings":            kindBool,
	"settings.expand_on_save":             kindBool,
	"tool.command":                        kindString,
	"tool.flags":                          kindString,
	"tool.timeout":                        kindDuration,
	"workspace.temp_dir":                  kindString,
	"workspace.prefix":                    kindString,
	"registry.settings_file":              kindString,
	"registry.key":                        kindString,
	"viewer.open_command":                 kindString,
	"viewer.timestamp_format":             kindString,
	"watch.debounce_ms":                   kindInt,
	"server.addr":                         kindString,
	"history.enabled":                     kindBool,
	"history.path":                        kindString,
	"history.limit":                       kindInt,
	"logging.enabled":                     kindBool,
	"logging.level":                       kindString,
	"logging.max_size_mb":                 kindInt,
	"logging.max_backups":                 kindInt,
}

// parseValue converts value to the type stored under key.
func parseValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'macroexpand config set --help' to see valid keys", key)
	}

	switch kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 30s", key)
		}
		return d.String(), nil
	default:
		if key == "logging.level" {
			level := strings.ToLower(value)
			if !slices.Contains(config.ValidLogLevels(), level) {
				return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(config.ValidLogLevels(), ", "))
			}
			return level, nil
		}
		return value, nil
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	return writeYAML(out, settings)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	typed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
		if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typed)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

// sectionComments documents each top-level section of the generated file.
var sectionComments = map[string]string{
	"settings":  "What rendered artifacts contain and when they refresh",
	"tool":      "Expansion tool; the module path is appended to command and flags",
	"workspace": "Where disposable workspaces are created (temp_dir \"\" = system temp)",
	"registry":  "Editor settings file listing workspace manifests (\"\" = in memory only)",
	"viewer":    "How artifacts are shown (open_command \"\" = print to stdout)",
	"watch":     "Coalescing window for save detection in 'watch' and 'serve --watch'",
	"server":    "Listen address for 'serve'",
	"history":   "Render history database (path \"\" = next to this file)",
	"logging":   "Debug log written to the state directory",
}

// defaultConfigYAML renders the defaults as a commented YAML document.
func defaultConfigYAML() ([]byte, error) {
	v := viper.New()
	config.SetDefaultsOn(v)

	var doc yaml.Node
	if err := doc.Encode(v.AllSettings()); err != nil {
		return nil, err
	}
	doc.HeadComment = "macroexpand configuration\nEnvironment variables override any key: " + config.EnvPrefix + "_SECTION_KEY"
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if comment, ok := sectionComments[doc.Content[i].Value]; ok {
			doc.Content[i].HeadComment = comment
		}
	}

	var b strings.Builder
	if err := writeYAML(&b, &doc); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'macroexpand config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := defaultConfigYAML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.WriteFile(configFile, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_SETTINGS_EXPAND_ON_SAVE)\n", config.EnvPrefix, config.EnvPrefix)
	return nil
}

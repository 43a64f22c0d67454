package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "tool.timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateTool()...)
	errors = append(errors, c.validateWorkspace()...)
	errors = append(errors, c.validateRegistry()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateHistory()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateTool() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Tool.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "tool.command",
			Value:   c.Tool.Command,
			Message: "must not be empty",
		})
	} else if _, err := shellquote.Split(c.Tool.Command); err != nil {
		errors = append(errors, ValidationError{
			Field:   "tool.command",
			Value:   c.Tool.Command,
			Message: fmt.Sprintf("cannot be split into arguments: %v", err),
		})
	}

	if _, err := shellquote.Split(c.Tool.Flags); err != nil {
		errors = append(errors, ValidationError{
			Field:   "tool.flags",
			Value:   c.Tool.Flags,
			Message: fmt.Sprintf("cannot be split into arguments: %v", err),
		})
	}

	if c.Tool.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "tool.timeout",
			Value:   c.Tool.Timeout,
			Message: "must be non-negative (0 disables the deadline)",
		})
	}

	return errors
}

func (c *Config) validateWorkspace() []ValidationError {
	var errors []ValidationError

	if c.Workspace.Prefix == "" {
		errors = append(errors, ValidationError{
			Field:   "workspace.prefix",
			Value:   c.Workspace.Prefix,
			Message: "must not be empty",
		})
	}
	if strings.ContainsAny(c.Workspace.Prefix, `/\`) {
		errors = append(errors, ValidationError{
			Field:   "workspace.prefix",
			Value:   c.Workspace.Prefix,
			Message: "must not contain path separators",
		})
	}

	return errors
}

func (c *Config) validateRegistry() []ValidationError {
	var errors []ValidationError

	if c.Registry.SettingsFile != "" && c.Registry.Key == "" {
		errors = append(errors, ValidationError{
			Field:   "registry.key",
			Value:   c.Registry.Key,
			Message: "must be set when registry.settings_file is set",
		})
	}

	return errors
}

func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	if c.Watch.DebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: "must be non-negative",
		})
	}

	const maxDebounceMs = 10000
	if c.Watch.DebounceMs > maxDebounceMs {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxDebounceMs),
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must be host:port",
		})
	}

	return errors
}

func (c *Config) validateHistory() []ValidationError {
	var errors []ValidationError

	if c.History.Limit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "history.limit",
			Value:   c.History.Limit,
			Message: "must be positive",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

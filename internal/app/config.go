package app

import (
	"io"
	"os"

	"stackctl/internal/config"
)

// Config holds the application configuration
type Config struct {
	// ConfigPath is an explicit configuration file. Empty means layered loading.
	ConfigPath string

	// Debug settings
	Debug bool
	// LogLevel overrides the default diagnostic level; Debug wins over it.
	LogLevel string

	// Out receives user-facing output.
	Out io.Writer

	// Stack is the loaded stack configuration
	Stack *config.StackConfig
}

// NewConfig creates a new application configuration
func NewConfig(configPath string, debug bool) *Config {
	return &Config{
		ConfigPath: configPath,
		Debug:      debug,
		Out:        os.Stdout,
	}
}

package app

import (
	"fmt"
	"os"

	"stackctl/internal/config"
	"stackctl/pkg/logging"
)

// Application is the main application structure that bootstraps and runs stackctl
type Application struct {
	config *Config
}

// NewApplication initializes logging and loads the stack configuration.
// Services are wired per command by InitializeServices.
func NewApplication(cfg *Config) (*Application, error) {
	// progress is printed by the reporter, diagnostics go to stderr
	appLogLevel := logging.LevelWarn
	if cfg.LogLevel != "" {
		appLogLevel = logging.ParseLevel(cfg.LogLevel)
	}
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}
	logging.InitForCLI(appLogLevel, os.Stderr)

	stack, err := loadStack(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.Stack = &stack
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	return &Application{config: cfg}, nil
}

func loadStack(path string) (config.StackConfig, error) {
	if path != "" {
		stack, err := config.LoadConfigFromPath(path)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load stackctl configuration from path: %s", path)
			return config.StackConfig{}, fmt.Errorf("failed to load stackctl configuration from path %s: %w", path, err)
		}
		logging.Info("Bootstrap", "Loaded configuration from custom path: %s", path)
		return stack, nil
	}

	stack, err := config.LoadConfig()
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load stackctl configuration")
		return config.StackConfig{}, fmt.Errorf("failed to load stackctl configuration: %w", err)
	}
	logging.Info("Bootstrap", "Loaded configuration using layered approach")
	return stack, nil
}

// Stack returns the loaded stack configuration.
func (a *Application) Stack() config.StackConfig {
	return *a.config.Stack
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/stackctl"
	projectConfigDir = ".stackctl"
	configFileName   = "config.yaml"
)

// LoadConfig loads the stack configuration by layering default, user, and project settings.
func LoadConfig() (StackConfig, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// user config is optional
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else if _, err := os.Stat(userConfigPath); err == nil {
		userConfig, err := loadConfigFromFile(userConfigPath)
		if err != nil {
			return StackConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
		config = mergeConfigs(config, userConfig)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else if _, err := os.Stat(projectConfigPath); err == nil {
		projectConfig, err := loadConfigFromFile(projectConfigPath)
		if err != nil {
			return StackConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
		config = mergeConfigs(config, projectConfig)
	}

	return finalize(config)
}

// LoadConfigFromPath layers a single explicit file over the defaults.
func LoadConfigFromPath(path string) (StackConfig, error) {
	fileConfig, err := loadConfigFromFile(path)
	if err != nil {
		return StackConfig{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	return finalize(mergeConfigs(GetDefaultConfig(), fileConfig))
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a StackConfig from a YAML file.
func loadConfigFromFile(filePath string) (StackConfig, error) {
	var config StackConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return StackConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return StackConfig{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config.
// Services are matched by name: a known name is replaced in place, a new one is appended.
func mergeConfigs(base, overlay StackConfig) StackConfig {
	merged := base

	if overlay.Project != "" {
		merged.Project = overlay.Project
	}
	if overlay.StateDir != "" {
		merged.StateDir = overlay.StateDir
	}
	if overlay.MetricsFile != "" {
		merged.MetricsFile = overlay.MetricsFile
	}
	if len(overlay.ReservedPorts) > 0 {
		merged.ReservedPorts = overlay.ReservedPorts
	}

	merged.Services = append([]ServiceSpec(nil), base.Services...)
	for _, svc := range overlay.Services {
		replaced := false
		for i := range merged.Services {
			if merged.Services[i].Name == svc.Name {
				merged.Services[i] = svc
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Services = append(merged.Services, svc)
		}
	}

	if overlay.Setup.Service != "" {
		merged.Setup.Service = overlay.Setup.Service
	}
	if overlay.Setup.Marker.Kind != "" {
		merged.Setup.Marker = overlay.Setup.Marker
	}
	if len(overlay.Setup.Steps) > 0 {
		merged.Setup.Steps = overlay.Setup.Steps
	}

	merged.Tunnel = mergeTunnel(base.Tunnel, overlay.Tunnel)
	return merged
}

func mergeTunnel(base, overlay TunnelConfig) TunnelConfig {
	merged := base
	if overlay.Enabled != nil {
		enabled := *overlay.Enabled
		merged.Enabled = &enabled
	}
	if overlay.Binary != "" {
		merged.Binary = overlay.Binary
	}
	if overlay.Name != "" {
		merged.Name = overlay.Name
	}
	if overlay.ConfigPath != "" {
		merged.ConfigPath = overlay.ConfigPath
	}
	if overlay.CredentialsFile != "" {
		merged.CredentialsFile = overlay.CredentialsFile
	}
	if overlay.SettleDelay != 0 {
		merged.SettleDelay = overlay.SettleDelay
	}
	if len(overlay.Routes) > 0 {
		merged.Routes = overlay.Routes
	}
	if overlay.Fallback != "" {
		merged.Fallback = overlay.Fallback
	}
	if overlay.DNS.ZoneID != "" {
		merged.DNS.ZoneID = overlay.DNS.ZoneID
	}
	if overlay.DNS.TunnelID != "" {
		merged.DNS.TunnelID = overlay.DNS.TunnelID
	}
	if overlay.DNS.APITokenEnv != "" {
		merged.DNS.APITokenEnv = overlay.DNS.APITokenEnv
	}
	return merged
}

// finalize resolves paths and validates the merged configuration.
func finalize(cfg StackConfig) (StackConfig, error) {
	wd, err := osGetwd()
	if err != nil {
		return StackConfig{}, fmt.Errorf("failed to determine working directory: %w", err)
	}
	cfg.StateDir = resolvePath(cfg.StateDir, wd)
	if cfg.Tunnel.ConfigPath == "" {
		cfg.Tunnel.ConfigPath = filepath.Join(cfg.StateDir, "cloudflared", "config.yml")
	}
	cfg.Tunnel.ConfigPath = resolvePath(cfg.Tunnel.ConfigPath, wd)
	cfg.Tunnel.CredentialsFile = resolvePath(cfg.Tunnel.CredentialsFile, wd)
	if cfg.MetricsFile != "" {
		cfg.MetricsFile = resolvePath(cfg.MetricsFile, wd)
	}

	if err := Validate(cfg); err != nil {
		return StackConfig{}, err
	}
	return cfg, nil
}

// resolvePath expands a leading ~ and makes relative paths absolute against base.
func resolvePath(p, base string) string {
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := osUserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

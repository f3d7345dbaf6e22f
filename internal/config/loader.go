package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory
// containing config.yaml.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)
	applyEnvOverrides(&cfg)

	// Hash-verify the config file when a .checksums manifest exists
	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DiscoverConfigPath finds the config by checking standard locations.
// Priority order: $PREVIEWD_CONFIG_DIR, ~/.config/previewd, /etc/previewd, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if dir := os.Getenv("PREVIEWD_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "previewd")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/previewd"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $PREVIEWD_CONFIG_DIR, ~/.config/previewd, /etc/previewd, ./config.yaml)")
}

func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if err != nil {
		// No .checksums means integrity locking is not in use.
		return nil
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: previewd config lock --config %s", basename, dir, dir)
	}

	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: previewd config lock --config %s", path, err, dir)
	}

	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.WorkspaceRoot == "" {
		cfg.Service.WorkspaceRoot = defaults.Service.WorkspaceRoot
	}
	if cfg.Service.DataDir == "" {
		cfg.Service.DataDir = defaults.Service.DataDir
	}

	if cfg.Limits.MaxFileCount == 0 {
		cfg.Limits.MaxFileCount = defaults.Limits.MaxFileCount
	}
	if cfg.Limits.MaxFileBytes == 0 {
		cfg.Limits.MaxFileBytes = defaults.Limits.MaxFileBytes
	}
	if cfg.Limits.MaxProjectBytes == 0 {
		cfg.Limits.MaxProjectBytes = defaults.Limits.MaxProjectBytes
	}
	if cfg.Limits.MaxDiskUsagePercent == 0 {
		cfg.Limits.MaxDiskUsagePercent = defaults.Limits.MaxDiskUsagePercent
	}

	if cfg.Build.PrimaryTool == "" {
		cfg.Build.PrimaryTool = defaults.Build.PrimaryTool
	}
	if cfg.Build.FallbackTool == "" {
		cfg.Build.FallbackTool = defaults.Build.FallbackTool
	}
	if cfg.Build.InstallTimeout == 0 {
		cfg.Build.InstallTimeout = defaults.Build.InstallTimeout
	}
	if cfg.Build.BuildTimeout == 0 {
		cfg.Build.BuildTimeout = defaults.Build.BuildTimeout
	}

	if cfg.Retention.SweepInterval == 0 {
		cfg.Retention.SweepInterval = defaults.Retention.SweepInterval
	}
	if cfg.Retention.MaxWorkspaceAge == 0 {
		cfg.Retention.MaxWorkspaceAge = defaults.Retention.MaxWorkspaceAge
	}
	if cfg.Retention.RecordRetention == 0 {
		cfg.Retention.RecordRetention = defaults.Retention.RecordRetention
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
}

// applyEnvOverrides applies PREVIEWD_* environment overrides. These cover
// the deploy-time surface; anything finer lives in the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PREVIEWD_WORKSPACE_ROOT"); v != "" {
		cfg.Service.WorkspaceRoot = v
	}
	if v := os.Getenv("PREVIEWD_PRIMARY_TOOL"); v != "" {
		cfg.Build.PrimaryTool = v
	}
	if v := os.Getenv("PREVIEWD_FALLBACK_TOOL"); v != "" {
		cfg.Build.FallbackTool = v
	}
	if v := os.Getenv("PREVIEWD_MAX_FILE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxFileCount = n
		}
	}
	if v := os.Getenv("PREVIEWD_MAX_PROJECT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxProjectBytes = n
		}
	}
	if v := os.Getenv("PREVIEWD_MAX_DISK_USAGE_PERCENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxDiskUsagePercent = n
		}
	}
	if v := os.Getenv("PREVIEWD_INSTALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Build.InstallTimeout = d
		}
	}
	if v := os.Getenv("PREVIEWD_BUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Build.BuildTimeout = d
		}
	}
	if v := os.Getenv("PREVIEWD_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.SweepInterval = d
		}
	}
	if v := os.Getenv("PREVIEWD_MAX_WORKSPACE_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.MaxWorkspaceAge = d
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Service.WorkspaceRoot == "" {
		return fmt.Errorf("service.workspace_root is required")
	}

	if cfg.Limits.MaxFileCount <= 0 {
		return fmt.Errorf("limits.max_file_count must be positive")
	}
	if cfg.Limits.MaxFileBytes <= 0 {
		return fmt.Errorf("limits.max_file_bytes must be positive")
	}
	if cfg.Limits.MaxProjectBytes <= 0 {
		return fmt.Errorf("limits.max_project_bytes must be positive")
	}
	if cfg.Limits.MaxDiskUsagePercent <= 0 || cfg.Limits.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("limits.max_disk_usage_percent must be in (0, 100] (got %d)", cfg.Limits.MaxDiskUsagePercent)
	}

	if cfg.Build.PrimaryTool == "" {
		return fmt.Errorf("build.primary_tool is required")
	}
	if cfg.Build.FallbackTool == "" {
		return fmt.Errorf("build.fallback_tool is required")
	}
	if cfg.Build.InstallTimeout <= 0 {
		return fmt.Errorf("build.install_timeout must be positive")
	}
	if cfg.Build.BuildTimeout <= 0 {
		return fmt.Errorf("build.build_timeout must be positive")
	}

	if cfg.Retention.SweepInterval <= 0 {
		return fmt.Errorf("retention.sweep_interval must be positive")
	}
	if cfg.Retention.MaxWorkspaceAge <= 0 {
		return fmt.Errorf("retention.max_workspace_age must be positive")
	}

	if cfg.API.Enabled {
		if len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth.tokens must be non-empty when the API is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if envVarPattern.MatchString(tok.Token) {
				matches := envVarPattern.FindStringSubmatch(tok.Token)
				if len(matches) > 1 {
					return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
				}
				return fmt.Errorf("api.auth.tokens[%d].token: unresolved environment variable", i)
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return nil
}

package config

import "time"

// Config represents the complete previewd configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Limits    LimitsConfig    `yaml:"limits"`
	Build     BuildConfig     `yaml:"build"`
	Retention RetentionConfig `yaml:"retention"`
	API       APIConfig       `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name          string `yaml:"name"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	WorkspaceRoot string `yaml:"workspace_root"`
	DataDir       string `yaml:"data_dir"`
}

// LimitsConfig bounds what a single build request may consume.
type LimitsConfig struct {
	MaxFileCount        int   `yaml:"max_file_count"`
	MaxFileBytes        int64 `yaml:"max_file_bytes"`
	MaxProjectBytes     int64 `yaml:"max_project_bytes"`
	MaxDiskUsagePercent int   `yaml:"max_disk_usage_percent"`
}

// BuildConfig defines toolchain selection and per-phase timeouts.
// Install and build each get their own wall-clock budget; worst-case
// request latency is the sum of both (plus one fallback install).
type BuildConfig struct {
	PrimaryTool    string        `yaml:"primary_tool"`
	FallbackTool   string        `yaml:"fallback_tool"`
	InstallTimeout time.Duration `yaml:"install_timeout"`
	BuildTimeout   time.Duration `yaml:"build_timeout"`
}

// RetentionConfig defines workspace eviction and record pruning.
type RetentionConfig struct {
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxWorkspaceAge time.Duration `yaml:"max_workspace_age"`
	RecordRetention time.Duration `yaml:"record_retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ChecksumManifest is the parsed .checksums file guarding config integrity.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "previewd",
			LogLevel:      "info",
			LogFormat:     "json",
			WorkspaceRoot: "./data/workspaces",
			DataDir:       "./data",
		},
		Limits: LimitsConfig{
			MaxFileCount:        500,
			MaxFileBytes:        2 << 20,   // 2 MiB per file
			MaxProjectBytes:     200 << 20, // 200 MiB staged, node_modules included
			MaxDiskUsagePercent: 90,
		},
		Build: BuildConfig{
			PrimaryTool:    "bun",
			FallbackTool:   "npm",
			InstallTimeout: 3 * time.Minute,
			BuildTimeout:   5 * time.Minute,
		},
		Retention: RetentionConfig{
			SweepInterval:   1 * time.Hour,
			MaxWorkspaceAge: 24 * time.Hour,
			RecordRetention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}

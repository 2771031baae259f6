package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"htr/internal/domain"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	// Project settings
	WorkingDirectory string `koanf:"working_directory"`
	AssemblyPath     string `koanf:"assembly_path"`
	ResultsPath      string `koanf:"results_path"`

	// Grouping and execution settings
	GroupingType   string `koanf:"grouping_type"`
	GroupByModel   bool   `koanf:"group_by_model"`
	Continuous     bool   `koanf:"continuous"`
	Concat         bool   `koanf:"concat"`
	Debug          bool   `koanf:"debug"`
	Timeout        int    `koanf:"timeout"` // Seconds without progress before a test times out
	PollIntervalMs int    `koanf:"poll_interval_ms"`

	// Host products; Product selects one by name
	Products []domain.Product `koanf:"products"`
	Product  string           `koanf:"product"`
	HostPath string           `koanf:"host_path"` // Overrides the product executable

	AdditionalResolutionDirectories []string `koanf:"additional_resolution_directories"`

	// Journal export
	JournalSample string `koanf:"journal_sample"`
	ExportFolder  string `koanf:"export_folder"`

	// Local state, recent files and history
	StateDir       string   `koanf:"state_dir"`
	PathsToIgnore  []string `koanf:"paths_to_ignore"`
	MaxRecentFiles int      `koanf:"max_recent_files"`
	RecentFile     string   `koanf:"recent_file"`
	HistoryDSN     string   `koanf:"history_dsn"`

	// Command flags
	Flags Flags `koanf:"-"`
}

// Flags holds command-line flags
type Flags struct {
	WorkingDirectory string
	AssemblyPath     string
	ResultsPath      string
	Filter           string
	GroupingType     string
	Product          string
	HostPath         string
	Session          string
	ExportFolder     string
	Timeout          int
	Continuous       *bool
	GroupByModel     *bool
	Concat           bool
	Debug            bool
	NoProgress       bool
	OpenFaills       bool
	OnlyFailed       bool
	Limit            int
	OlderThan        time.Duration
}

// New creates a new Config with defaults
func New() *Config {
	cfg := &Config{
		WorkingDirectory: DefaultWorkingDirectory,
		GroupingType:     DefaultGroupingType,
		GroupByModel:     true,
		Continuous:       true,
		Timeout:          DefaultTimeoutSeconds,
		PollIntervalMs:   DefaultPollIntervalMillis,
		StateDir:         DefaultStateDir,
		MaxRecentFiles:   DefaultMaxRecentFiles,
	}
	// Copy default paths to ignore
	cfg.PathsToIgnore = make([]string, len(DefaultPathsToIgnore))
	copy(cfg.PathsToIgnore, DefaultPathsToIgnore)
	return cfg
}

// Load builds the configuration for a working directory.
// Priority: flags (applied later) > HTR_* environment > htr.yaml > defaults.
// A .env file in the working directory is loaded into the environment first.
func Load(workingDir string) (*Config, error) {
	if workingDir == "" {
		workingDir = DefaultWorkingDirectory
	}

	// .env file might not exist, that's okay - use environment variables
	_ = godotenv.Load(filepath.Join(workingDir, ".env"))

	k := koanf.New(".")
	for key, value := range GetDefaults() {
		k.Set(key, value)
	}
	k.Set("working_directory", workingDir)

	projectFile := filepath.Join(workingDir, DefaultConfigFile)
	if fileExists(projectFile) {
		if err := k.Load(file.Provider(projectFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", projectFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	cfg := New()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.AdditionalResolutionDirectories = splitList(cfg.AdditionalResolutionDirectories)
	cfg.PathsToIgnore = splitList(cfg.PathsToIgnore)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFlags overrides config values with flags that were set
func (c *Config) ApplyFlags(f Flags) {
	c.Flags = f
	if f.WorkingDirectory != "" {
		c.WorkingDirectory = f.WorkingDirectory
	}
	if f.AssemblyPath != "" {
		c.AssemblyPath = f.AssemblyPath
	}
	if f.ResultsPath != "" {
		c.ResultsPath = f.ResultsPath
	}
	if f.GroupingType != "" {
		c.GroupingType = f.GroupingType
	}
	if f.Product != "" {
		c.Product = f.Product
	}
	if f.HostPath != "" {
		c.HostPath = f.HostPath
	}
	if f.ExportFolder != "" {
		c.ExportFolder = f.ExportFolder
	}
	if f.Timeout > 0 {
		c.Timeout = f.Timeout
	}
	if f.Continuous != nil {
		c.Continuous = *f.Continuous
	}
	if f.GroupByModel != nil {
		c.GroupByModel = *f.GroupByModel
	}
	if f.Concat {
		c.Concat = true
	}
	if f.Debug {
		c.Debug = true
	}
}

// Validate checks values that cannot be fixed up silently
func (c *Config) Validate() error {
	if _, err := domain.ParseGroupingType(c.GroupingType); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config validation failed: timeout must not be negative")
	}
	return nil
}

// Grouping returns the parsed grouping type
func (c *Config) Grouping() domain.GroupingType {
	gt, err := domain.ParseGroupingType(c.GroupingType)
	if err != nil {
		return domain.GroupByFixture
	}
	return gt
}

// TimeoutDuration returns the per-test timeout
func (c *Config) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return time.Duration(DefaultTimeoutSeconds) * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// PollInterval returns how often the host is polled
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return time.Duration(DefaultPollIntervalMillis) * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// GetAssemblyPath returns the assembly path, relative paths resolved against the working directory
func (c *Config) GetAssemblyPath() string {
	if c.AssemblyPath == "" {
		return c.WorkingDirectory
	}
	return c.resolve(c.AssemblyPath)
}

// GetResultsPath returns the absolute results file path, empty when none is set
func (c *Config) GetResultsPath() string {
	if c.ResultsPath == "" {
		return ""
	}
	return c.resolve(c.ResultsPath)
}

// DefaultResultsPath is the results path used when the user has not chosen one
func (c *Config) DefaultResultsPath() string {
	return c.resolve(DefaultResultsFile)
}

// GetStatePath returns the absolute path of the local state directory
func (c *Config) GetStatePath() string {
	return c.resolve(c.StateDir)
}

// GetSummaryPath returns the path to the last run summary.
// Resolves to an absolute path so run and faills always read/write the same file regardless of cwd.
func (c *Config) GetSummaryPath() string {
	return filepath.Join(c.GetStatePath(), DefaultSummaryFile)
}

// GetRecentFilePath returns where recently used session files are remembered
func (c *Config) GetRecentFilePath() string {
	if c.RecentFile != "" {
		return c.resolve(c.RecentFile)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "htr", "recent.yaml")
	}
	return filepath.Join(c.GetStatePath(), "recent.yaml")
}

// SelectedProduct returns the product runs will use.
// HostPath wins over the products list; Product picks by name, else the first entry.
func (c *Config) SelectedProduct() domain.Product {
	if c.HostPath != "" {
		return domain.Product{Name: productNameFromPath(c.HostPath), Path: c.HostPath}
	}
	for _, p := range c.Products {
		if c.Product == "" || strings.EqualFold(p.Name, c.Product) {
			return p
		}
	}
	return domain.Product{Name: c.Product}
}

func (c *Config) resolve(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.WorkingDirectory, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func productNameFromPath(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// splitList accepts both list values and a single ';' separated value (env vars)
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ";") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// envTransform converts environment variable names to config keys
// Example: HTR_RESULTS_PATH -> results_path
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

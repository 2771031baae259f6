package config

const (
	// DefaultWorkingDirectory is the default working directory
	DefaultWorkingDirectory = "."
	// DefaultConfigFile is the project config file name inside the working directory
	DefaultConfigFile = "htr.yaml"
	// DefaultResultsFile is the results file name used when no results path is set
	DefaultResultsFile = "results.xml"
	// DefaultStateDir holds side-channel files and the last run summary
	DefaultStateDir = ".htr"
	// DefaultSummaryFile is the last run summary file name
	DefaultSummaryFile = "last-run.json"
	// DefaultTimeoutSeconds is the default per-test timeout
	DefaultTimeoutSeconds = 120
	// DefaultPollIntervalMillis is how often the supervisor checks the host
	DefaultPollIntervalMillis = 250
	// DefaultGroupingType groups tests by fixture
	DefaultGroupingType = "fixture"
	// DefaultManifestSuffix identifies assembly manifests
	DefaultManifestSuffix = ".tests.yaml"
	// DefaultMaxRecentFiles is how many recent session files are remembered
	DefaultMaxRecentFiles = 3
	// DefaultHistoryDatabase is the MySQL schema run history is recorded in
	DefaultHistoryDatabase = "htr_history"
	// EnvPrefix is the prefix of environment overrides
	EnvPrefix = "HTR_"
)

// DefaultPathsToIgnore are the default directories to ignore when scanning for manifests
var DefaultPathsToIgnore = []string{
	"node_modules",
	"obj",
	"packages",
	DefaultStateDir,
}

// GetDefaults returns the default values keyed the way the config file names them
func GetDefaults() map[string]interface{} {
	return map[string]interface{}{
		"working_directory": DefaultWorkingDirectory,
		"grouping_type":     DefaultGroupingType,
		"continuous":        true,
		"group_by_model":    true,
		"concat":            false,
		"debug":             false,
		"timeout":           DefaultTimeoutSeconds,
		"poll_interval_ms":  DefaultPollIntervalMillis,
		"state_dir":         DefaultStateDir,
		"paths_to_ignore":   DefaultPathsToIgnore,
		"max_recent_files":  DefaultMaxRecentFiles,
	}
}

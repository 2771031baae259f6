package commands

import (
	"os"

	"htr/internal/cli"
	"htr/internal/config"
	"htr/internal/execution"
	"htr/internal/migration"
	"htr/internal/storage"
	"htr/internal/ui"

	"github.com/spf13/cobra"
)

// Commands holds all CLI commands
type Commands struct {
	Run     *RunCommand
	List    *ListCommand
	Export  *ExportCommand
	Faills  *FaillsCommand
	Session *SessionCommand
	Watch   *WatchCommand
	History *HistoryCommand
	Migrate *MigrateCommand
	Cleanup *CleanupCommand

	log *ui.Logger
}

// NewCommands creates all commands with dependencies
func NewCommands(cfg *config.Config) *Commands {
	log := ui.NewLogger(os.Stderr, cfg.Debug)
	jsonStorage := storage.NewJSONStorage(cfg)
	formatter := ui.NewFormatter(os.Stdout)
	dbManager := migration.NewDatabaseManager(cfg)
	errorViewer := ui.NewErrorViewer(jsonStorage.SaveOutput)
	ws := newWorkspaceFactory(cfg, log, jsonStorage)

	return &Commands{
		Run:     NewRunCommand(cfg, ws, jsonStorage, formatter, dbManager, errorViewer, log),
		List:    NewListCommand(cfg, ws, formatter),
		Export:  NewExportCommand(cfg, ws, execution.NewExporter(execution.NewModelScheduler()), log),
		Faills:  NewFaillsCommand(cfg, jsonStorage, errorViewer),
		Session: NewSessionCommand(cfg, ws, log),
		Watch:   NewWatchCommand(cfg, ws, formatter, log),
		History: NewHistoryCommand(cfg, dbManager),
		Migrate: NewMigrateCommand(cfg, dbManager),
		Cleanup: NewCleanupCommand(cfg, log),
		log:     log,
	}
}

// Register registers all commands with cobra
func (c *Commands) Register(rootCmd *cobra.Command, flags *cli.Flags, cfg *config.Config) {
	rootCmd.PersistentFlags().StringVarP(&flags.WorkingDirectory, "working-dir", "w", "", "Working directory (models and htr.yaml are looked up here)")
	rootCmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Print debug output and keep host side-channel files")

	// Configuration is loaded once flags are parsed: defaults < htr.yaml < HTR_* < flags
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		flags.ContinuousSet = cmd.Flags().Changed("continuous")
		flags.GroupByModelSet = cmd.Flags().Changed("group-by-model")

		loaded, err := config.Load(flags.WorkingDirectory)
		if err != nil {
			return err
		}
		loaded.ApplyFlags(flags.ToConfigFlags())
		*cfg = *loaded
		c.log.SetDebug(cfg.Debug)
		return nil
	}

	// Run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run tests inside the host application",
		Long:  "Discover, select and execute tests in the host application, grouping tests that share a model",
		RunE:  c.Run.Execute,
	}
	addSelectionFlags(runCmd, flags)
	addRunFlags(runCmd, flags)
	runCmd.Flags().BoolVar(&flags.NoProgress, "no-progress", false, "Do not draw the progress bar")
	runCmd.Flags().BoolVar(&flags.OpenFaills, "open-faills", false, "Open the faills viewer when the run finishes with failures")
	runCmd.Flags().BoolVar(&flags.OnlyFailed, "failed", false, "Run only tests that failed in the last run")
	rootCmd.AddCommand(runCmd)

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered tests",
		Long:  "Print the test tree with selection and the outcome of the last run",
		RunE:  c.List.Execute,
	}
	addSelectionFlags(listCmd, flags)
	listCmd.Flags().StringVarP(&flags.GroupingType, "group", "g", "", "Group tests by fixture or category")
	rootCmd.AddCommand(listCmd)

	// Export command
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export one automation journal per batch",
		Long:  "Write standalone journals for the selected tests so they can be replayed without the runner",
		RunE:  c.Export.Execute,
	}
	addSelectionFlags(exportCmd, flags)
	addRunFlags(exportCmd, flags)
	exportCmd.Flags().StringVarP(&flags.ExportFolder, "out", "o", "", "Folder the journals are written to")
	rootCmd.AddCommand(exportCmd)

	// Faills command
	faillsCmd := &cobra.Command{
		Use:   "faills",
		Short: "View test failures interactively",
		Long:  "Display test failures from the last test run in an interactive viewer",
		RunE:  c.Faills.Execute,
	}
	rootCmd.AddCommand(faillsCmd)

	// Session commands
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Save and inspect test sessions",
	}
	saveCmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Save the current settings and selection to a session file",
		Args:  cobra.ExactArgs(1),
		RunE:  c.Session.Save,
	}
	addSelectionFlags(saveCmd, flags)
	addRunFlags(saveCmd, flags)
	sessionCmd.AddCommand(saveCmd)
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "show <file>",
		Short: "Print a session file and its selection",
		Args:  cobra.ExactArgs(1),
		RunE:  c.Session.Show,
	})
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "recent",
		Short: "List recently used session files",
		Args:  cobra.NoArgs,
		RunE:  c.Session.Recent,
	})
	rootCmd.AddCommand(sessionCmd)

	// Watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run tests when the assembly manifest changes",
		Long:  "Reload the test tree whenever the assembly manifest changes and run the selection again while idle",
		RunE:  c.Watch.Execute,
	}
	addSelectionFlags(watchCmd, flags)
	addRunFlags(watchCmd, flags)
	rootCmd.AddCommand(watchCmd)

	// History command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in the history database",
		RunE:  c.History.Execute,
	}
	historyCmd.Flags().IntVarP(&flags.Limit, "limit", "n", 10, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)

	// Migrate command
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the run history database",
		RunE:  c.Migrate.Execute,
	}
	rootCmd.AddCommand(migrateCmd)

	// Cleanup command
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove run folders left in the state directory",
		Long:  "Delete side-channel folders kept by debug or interrupted runs. Refuses while a run is active.",
		Args:  cobra.NoArgs,
		RunE:  c.Cleanup.Execute,
	}
	cleanupCmd.Flags().DurationVar(&flags.OlderThan, "older-than", 0, "Only remove folders older than this (e.g. 72h)")
	rootCmd.AddCommand(cleanupCmd)
}

// addSelectionFlags adds the flags that choose which tests a command sees
func addSelectionFlags(cmd *cobra.Command, flags *cli.Flags) {
	cmd.Flags().StringVarP(&flags.AssemblyPath, "assembly", "a", "", "Assembly manifest, or a folder to scan for *.tests.yaml manifests")
	cmd.Flags().StringVarP(&flags.Filter, "filter", "f", "", "Select tests by name pattern (supports wildcards, e.g. 'Wall*' or '*Tests.Create*')")
	cmd.Flags().StringVarP(&flags.Session, "session", "s", "", "Open a saved session file")
}

// addRunFlags adds the flags that shape how tests are executed
func addRunFlags(cmd *cobra.Command, flags *cli.Flags) {
	cmd.Flags().StringVarP(&flags.ResultsPath, "results", "r", "", "Results XML file")
	cmd.Flags().StringVarP(&flags.Product, "product", "p", "", "Host product to run tests in (by name)")
	cmd.Flags().StringVar(&flags.HostPath, "host", "", "Host executable, overrides the product")
	cmd.Flags().IntVarP(&flags.Timeout, "timeout", "t", 0, "Seconds a test may make no progress before it times out")
	cmd.Flags().BoolVar(&flags.Continuous, "continuous", true, "Keep one host running across batches")
	cmd.Flags().BoolVar(&flags.GroupByModel, "group-by-model", true, "Run tests that share a model in one batch")
	cmd.Flags().BoolVar(&flags.Concat, "concat", false, "Append to the results file instead of replacing it")
}

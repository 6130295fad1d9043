// Package cli provides the command-line interface for intake.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/intake/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configFile string
	envFiles   []string

	// Folder and endpoint overrides
	inboundFlag   string
	processedFlag string
	failedFlag    string
	endpointFlag  string
	workersFlag   int

	// Loaded in PersistentPreRunE
	cfg      config.Config
	logger   *slog.Logger
	closeLog = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Ingest files dropped into a folder and upload them to an HTTP endpoint",
	Long: `Intake watches an inbound folder, classifies every file that lands there by
its content, repackages 7z archives as zip, uploads the payload to an HTTP
endpoint (typically an Orthanc /instances URL) and moves the original into
the processed or failed folder.

Configuration comes from an optional YAML file, .env files, INTAKE_* (or the
legacy TOPROCESS_FOLDER, FAILED_FOLDER, PROCESSED_FOLDER, ORTHANC_ENDPOINT,
MAX_CONCURRENT_UPLOADS) environment variables and flags, in that order.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		loaded, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		applyFlags(cmd)

		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	},
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("inbound") {
		cfg.InboundFolder = inboundFlag
	}
	if flags.Changed("processed") {
		cfg.ProcessedFolder = processedFlag
	}
	if flags.Changed("failed") {
		cfg.FailedFolder = failedFlag
	}
	if flags.Changed("endpoint") {
		cfg.UploadEndpoint = endpointFlag
	}
	if flags.Changed("workers") {
		cfg.MaxConcurrency = workersFlag
	}
	cfg.ResolvePaths()
}

// requireConfig validates the configuration and creates missing folders.
func requireConfig() error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg.EnsureFolders()
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVarP(&configFile, "config", "c", "", "YAML config file")
	pf.StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default ./.env if present)")
	pf.StringVar(&inboundFlag, "inbound", "", "inbound folder")
	pf.StringVar(&processedFlag, "processed", "", "processed folder")
	pf.StringVar(&failedFlag, "failed", "", "failed folder")
	pf.StringVar(&endpointFlag, "endpoint", "", "upload endpoint URL")
	pf.IntVarP(&workersFlag, "workers", "j", 0, "max concurrent items")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(retryCmd)
}

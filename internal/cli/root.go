package cli

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "firmsync",
	Short: "FirmSync - practice management synchronization service",
	Long: `FirmSync keeps a local exchange platform in step with a
practice-management provider: it owns the OAuth credential lifecycle,
extracts cases, contacts and tasks page by page, reconciles them against
the local store, and upserts the result in batches.

Usage:
  firmsync [command] [flags]

Available Commands:
  serve      Start the FirmSync API server (main mode)
  sync       Run a one-shot sync for one or all entity types
  token      Inspect, refresh, or revoke the stored credential
  authorize  Exchange an authorization code for a credential
  doctor     Diagnose system and configuration issues

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --db string       Path to SQLite database (default "./data/firmsync.db")
  --verbose         Enable verbose output
  --json            Output in JSON format

Use "firmsync [command] --help" for more information about a command.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

var globalFlags GlobalFlags

// InitRoot initializes the root command with global flags
func InitRoot() {
	configPath := os.Getenv("FIRMSYNC_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	dbPath := os.Getenv("FIRMSYNC_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/firmsync.db"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", dbPath, "Path to SQLite database")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of FirmSync",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

// VersionInfo contains version information
type VersionInfo struct {
	Version   string
	GoVersion string
	OS        string
	Arch      string
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func printVersion() {
	info := GetVersionInfo()
	println("FirmSync Version:", info.Version)
	println("Go Version:", info.GoVersion)
	println("OS/Arch:", info.OS+"/"+info.Arch)
}

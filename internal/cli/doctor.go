package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/firmsync/firmsync/internal/config"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose system and configuration issues",
	Long: `Perform a system diagnostic for FirmSync.

This command checks:
- System information (OS, Go version, etc.)
- Configuration file presence and validity
- Database path accessibility
- Provider credential configuration

Example:
  firmsync doctor`,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp       time.Time     `json:"timestamp"`
	Checks          []DoctorCheck `json:"checks"`
	Recommendations []string      `json:"recommendations"`
}

// DoctorCheck represents a single diagnostic check
type DoctorCheck struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report := DoctorReport{
		Timestamp: time.Now().UTC(),
		Checks:    []DoctorCheck{},
	}

	report.Checks = append(report.Checks, collectSystemInfo()...)
	report.Checks = append(report.Checks, checkConfiguration()...)
	report.Checks = append(report.Checks, checkDatabase()...)
	report.Recommendations = generateRecommendations(report.Checks)

	return outputDoctorReport(report)
}

func collectSystemInfo() []DoctorCheck {
	checks := []DoctorCheck{
		{
			Category: "System",
			Name:     "Runtime",
			Status:   "ok",
			Message:  fmt.Sprintf("%s/%s, %s, %d CPUs", runtime.GOOS, runtime.GOARCH, runtime.Version(), runtime.NumCPU()),
		},
	}

	if wd, err := os.Getwd(); err == nil {
		checks = append(checks, DoctorCheck{
			Category: "System",
			Name:     "Working Directory",
			Status:   "ok",
			Message:  wd,
		})
	}
	return checks
}

func checkConfiguration() []DoctorCheck {
	checks := []DoctorCheck{}

	if _, err := os.Stat(globalFlags.Config); err != nil {
		checks = append(checks, DoctorCheck{
			Category:    "Configuration",
			Name:        "Config File",
			Status:      "fail",
			Message:     fmt.Sprintf("config file not found: %s", globalFlags.Config),
			Remediation: "Create a config file or set FIRMSYNC_CONFIG_PATH",
		})
		return checks
	}
	checks = append(checks, DoctorCheck{
		Category: "Configuration",
		Name:     "Config File",
		Status:   "ok",
		Message:  globalFlags.Config,
	})

	cfg, err := config.NewLoader(globalFlags.Config).Load()
	if err != nil {
		checks = append(checks, DoctorCheck{
			Category:    "Configuration",
			Name:        "Config Parse",
			Status:      "fail",
			Message:     err.Error(),
			Remediation: "Fix the configuration error and rerun doctor",
		})
		return checks
	}
	checks = append(checks, DoctorCheck{
		Category: "Configuration",
		Name:     "Config Parse",
		Status:   "ok",
		Message:  fmt.Sprintf("version %s", cfg.Version),
	})

	providerCheck := DoctorCheck{
		Category: "Provider",
		Name:     "Credentials",
		Status:   "ok",
		Message:  fmt.Sprintf("%s at %s", cfg.Provider.Name, cfg.Provider.BaseURL),
	}
	if cfg.Provider.ClientID == "" || cfg.Provider.ClientSecret == "" {
		providerCheck.Status = "fail"
		providerCheck.Message = "client credentials are empty after env substitution"
		providerCheck.Remediation = "Export the client id/secret variables referenced in the config"
	}
	checks = append(checks, providerCheck)

	telegramCheck := DoctorCheck{
		Category: "Notifications",
		Name:     "Telegram",
		Status:   "ok",
		Message:  "disabled",
	}
	if cfg.Telegram.Enabled {
		telegramCheck.Message = fmt.Sprintf("enabled, chat %d", cfg.Telegram.ChatID)
	}
	checks = append(checks, telegramCheck)

	return checks
}

func checkDatabase() []DoctorCheck {
	dir := filepath.Dir(globalFlags.DBPath)
	if _, err := os.Stat(dir); err != nil {
		return []DoctorCheck{{
			Category:    "Database",
			Name:        "Data Directory",
			Status:      "warn",
			Message:     fmt.Sprintf("directory does not exist: %s (it will be created on first run)", dir),
			Remediation: "Run 'firmsync serve' or create the directory manually",
		}}
	}

	return []DoctorCheck{{
		Category: "Database",
		Name:     "Data Directory",
		Status:   "ok",
		Message:  dir,
	}}
}

func generateRecommendations(checks []DoctorCheck) []string {
	recommendations := []string{}
	for _, check := range checks {
		if check.Status != "ok" && check.Remediation != "" {
			recommendations = append(recommendations, check.Remediation)
		}
	}
	return recommendations
}

func outputDoctorReport(report DoctorReport) error {
	if globalFlags.JSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tCHECK\tSTATUS\tMESSAGE")
	for _, check := range report.Checks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", check.Category, check.Name, check.Status, check.Message)
	}
	w.Flush()

	if len(report.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range report.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}
	return nil
}

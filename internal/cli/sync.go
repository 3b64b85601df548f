package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/firmsync/firmsync/internal/models"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync [entity]",
	Short: "Run a one-shot sync for one or all entity types",
	Long: `Run a synchronization pass without starting the server.

With no argument every entity type is synced in order. With an entity
argument (users, contacts, exchanges, tasks) only that type is synced.

Example:
  firmsync sync
  firmsync sync exchanges --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	RootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && !models.EntityType(args[0]).Valid() {
		return fmt.Errorf("unknown entity type %q (want one of: users, contacts, exchanges, tasks)", args[0])
	}

	st, err := buildStack(globalFlags.Config, globalFlags.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var reports []*models.Report

	if len(args) == 1 {
		entity := models.EntityType(args[0])
		report, err := st.engine.RunSync(ctx, entity)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			printReports(reports)
			return err
		}
	} else {
		reports, err = st.engine.RunAll(ctx)
		if err != nil {
			printReports(reports)
			return err
		}
	}

	printReports(reports)
	return nil
}

func printReports(reports []*models.Report) {
	if len(reports) == 0 {
		return
	}

	if globalFlags.JSON {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tSTATE\tFETCHED\tPAGES\tCREATED\tUPDATED\tFAILED")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.Entity, r.State, r.Fetched, r.Pages, r.Created, r.Updated, r.Failed)
	}
	w.Flush()

	for _, r := range reports {
		for _, msg := range r.Errors {
			fmt.Printf("  %s: %s\n", r.Entity, msg)
		}
	}
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firmsync/firmsync/internal/models"
)

// tokenCmd groups credential lifecycle subcommands
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect, refresh, or revoke the stored credential",
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(globalFlags.Config, globalFlags.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		return printTokenStatus(st.tokens.Status())
	},
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a refresh of the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(globalFlags.Config, globalFlags.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		status, err := st.tokens.ManualRefresh(context.Background())
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		return printTokenStatus(status)
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Deactivate the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(globalFlags.Config, globalFlags.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.tokens.Revoke(context.Background()); err != nil {
			return err
		}
		fmt.Println("credential revoked; run 'firmsync authorize' to restore syncing")
		return nil
	},
}

// authorizeCmd exchanges an authorization code for a credential
var authorizeCmd = &cobra.Command{
	Use:   "authorize <code>",
	Short: "Exchange an authorization code for a credential",
	Long: `Complete the OAuth authorization-code flow from the command line.

Obtain a code from the provider's consent screen, then:
  firmsync authorize 4/0AbCdEf...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(globalFlags.Config, globalFlags.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		status, err := st.tokens.Authorize(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}
		return printTokenStatus(status)
	},
}

func init() {
	tokenCmd.AddCommand(tokenStatusCmd)
	tokenCmd.AddCommand(tokenRefreshCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	RootCmd.AddCommand(tokenCmd)
	RootCmd.AddCommand(authorizeCmd)
}

func printTokenStatus(status *models.TokenStatus) error {
	if globalFlags.JSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("provider:   %s\n", status.Provider)
	fmt.Printf("state:      %s\n", status.State)
	fmt.Printf("message:    %s\n", status.Message)
	if status.ExpiresAt != nil {
		fmt.Printf("expires at: %s\n", status.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
	if status.ExpiresIn != "" {
		fmt.Printf("expires in: %s\n", status.ExpiresIn)
	}
	if status.Scope != "" {
		fmt.Printf("scope:      %s\n", status.Scope)
	}
	return nil
}

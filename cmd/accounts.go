package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-scanner/internal/model"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage owner accounts and scan quota",
}

var accountsEnsureCmd = &cobra.Command{
	Use:   "ensure <owner-id>",
	Short: "Create an account if it does not exist",
	Long:  "Creates the account with the configured default quota. An existing account is left unchanged and printed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		email, _ := cmd.Flags().GetString("email")
		quota, _ := cmd.Flags().GetInt("quota")
		if quota < 0 {
			quota = cfg.Scan.DefaultQuota
		}

		env, err := initEnv(ctx, "leads")
		if err != nil {
			return err
		}
		defer env.Close()

		acct, err := env.Store.EnsureAccount(ctx, model.Account{
			ID:             args[0],
			Email:          email,
			Plan:           model.DefaultPlan,
			ScansRemaining: quota,
		})
		if err != nil {
			return eris.Wrap(err, "accounts ensure")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(acct)
	},
}

func init() {
	accountsEnsureCmd.Flags().String("email", "", "contact email")
	accountsEnsureCmd.Flags().Int("quota", -1, "scans granted to a new account (default scan.default_quota)")

	accountsCmd.AddCommand(accountsEnsureCmd)
	rootCmd.AddCommand(accountsCmd)
}

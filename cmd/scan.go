package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-scanner/internal/model"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan job in the foreground",
	Long:  "Creates a scan job for the owner and runs the full pipeline before returning. The job is recorded exactly as one started through the API.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		owner, _ := cmd.Flags().GetString("owner")
		city, _ := cmd.Flags().GetString("city")
		category, _ := cmd.Flags().GetString("category")
		asJSON, _ := cmd.Flags().GetBool("json")

		env, err := initEnv(ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Scans.CreateJob(ctx, owner, city, category)
		if err != nil {
			return eris.Wrap(err, "scan")
		}
		runErr := env.Scans.Run(ctx, job)

		final, err := env.Scans.GetJobStatus(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "scan: reload job")
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(final); err != nil {
				return err
			}
		} else {
			formatJob(os.Stdout, final)
		}
		return runErr
	},
}

var scanStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a scan job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "leads")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "scan status")
		}
		formatJob(os.Stdout, job)
		return nil
	},
}

func init() {
	scanCmd.Flags().String("owner", "", "account id that owns the scan (required)")
	scanCmd.Flags().String("city", "", "target city (required)")
	scanCmd.Flags().String("category", "", "business category (required)")
	scanCmd.Flags().Bool("json", false, "print the final job as JSON")
	_ = scanCmd.MarkFlagRequired("owner")
	_ = scanCmd.MarkFlagRequired("city")
	_ = scanCmd.MarkFlagRequired("category")

	scanCmd.AddCommand(scanStatusCmd)
	rootCmd.AddCommand(scanCmd)
}

// formatJob writes a job summary to w.
func formatJob(out io.Writer, j *model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", j.ID)
	_, _ = fmt.Fprintf(w, "Owner:\t%s\n", j.UserID)
	_, _ = fmt.Fprintf(w, "Search:\t%s in %s\n", j.Category, j.City)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", j.Status)
	_, _ = fmt.Fprintf(w, "Progress:\t%d%%\n", j.Progress)
	_, _ = fmt.Fprintf(w, "Leads found:\t%d\n", j.LeadsFound)
	_, _ = fmt.Fprintf(w, "Started:\t%s\n", j.StartedAt.Format("2006-01-02 15:04:05"))
	if j.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Duration:\t%s\n", j.CompletedAt.Sub(j.StartedAt).Round(time.Second))
	}
	if j.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", j.Error)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

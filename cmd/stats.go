package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-scanner/internal/leads"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show an owner's dashboard statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")

		env, err := initEnv(ctx, "leads")
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := env.Leads.Stats(ctx, owner)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		formatDashboard(os.Stdout, d)
		return nil
	},
}

func init() {
	statsCmd.Flags().String("owner", "", "account id (required)")
	_ = statsCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(statsCmd)
}

// formatDashboard writes dashboard counters, recent scans, and daily
// activity to w.
func formatDashboard(out io.Writer, d *leads.Dashboard) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total leads:\t%d\n", d.Stats.TotalLeads)
	_, _ = fmt.Fprintf(w, "Hot leads:\t%d\n", d.Stats.HotLeads)
	_, _ = fmt.Fprintf(w, "Scans running:\t%d\n", d.Stats.ScansRunning)
	_, _ = fmt.Fprintf(w, "Scans remaining:\t%d\n", d.Stats.ScansRemaining)
	_ = w.Flush()

	if len(d.RecentScans) > 0 {
		_, _ = fmt.Fprintln(out, "\nRecent scans:")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, j := range d.RecentScans {
			_, _ = fmt.Fprintf(w, "  %s\t%s in %s\t%s\t%d leads\t%s\n",
				truncateID(j.ID),
				j.Category,
				j.City,
				j.Status,
				j.LeadsFound,
				j.StartedAt.Format("2006-01-02 15:04"),
			)
		}
		_ = w.Flush()
	}

	if len(d.Activity) > 0 {
		_, _ = fmt.Fprintln(out, "\nLeads per day:")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, a := range d.Activity {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", a.Day, a.Count)
		}
		_ = w.Flush()
	}
}

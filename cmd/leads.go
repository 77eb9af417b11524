package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-scanner/internal/leads"
	"github.com/sells-group/lead-scanner/internal/model"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect, clean, and export an owner's leads",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's top leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")
		leadType, _ := cmd.Flags().GetString("type")

		env, err := initEnv(ctx, "leads")
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Leads.List(ctx, owner, leadType)
		if err != nil {
			return eris.Wrap(err, "leads list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}
		formatLeadsList(os.Stdout, list)
		return nil
	},
}

// -- leads fake --

var leadsFakeCmd = &cobra.Command{
	Use:   "fake",
	Short: "Report leads that look machine-generated",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")

		env, err := initEnv(ctx, "leads")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Leads.ClassifyFakeLeads(ctx, owner)
		if err != nil {
			return eris.Wrap(err, "leads fake")
		}
		formatFakeReport(os.Stdout, report)
		return nil
	},
}

// -- leads clean --

var leadsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete leads that look machine-generated",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")

		env, err := initEnv(ctx, "leads")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Leads.RemoveFakeLeads(ctx, owner)
		if err != nil {
			return eris.Wrap(err, "leads clean")
		}
		fmt.Printf("Removed %d fake leads, %d remaining.\n", res.DeletedCount, res.RemainingCount)
		return nil
	},
}

// -- leads export --

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an owner's leads as CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		format = strings.ToLower(format)
		if format != "csv" && format != "xlsx" {
			return eris.Errorf("unsupported export format %q", format)
		}
		if format == "xlsx" && outPath == "" {
			return eris.New("xlsx export requires --out")
		}

		env, err := initEnv(ctx, "leads")
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Leads.Export(ctx, owner)
		if err != nil {
			return eris.Wrap(err, "leads export")
		}

		var out io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return eris.Wrap(err, "leads export: create file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if format == "xlsx" {
			err = leads.WriteXLSX(out, list)
		} else {
			err = leads.WriteCSV(out, list)
		}
		if err != nil {
			return err
		}
		if outPath != "" {
			fmt.Fprintf(os.Stderr, "Exported %d leads to %s\n", len(list), outPath)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{leadsListCmd, leadsFakeCmd, leadsCleanCmd, leadsExportCmd} {
		c.Flags().String("owner", "", "account id that owns the leads (required)")
		_ = c.MarkFlagRequired("owner")
		leadsCmd.AddCommand(c)
	}
	leadsListCmd.Flags().String("type", leads.AllTypes, "lead type filter (HOT, WARM, COLD, ALL)")
	leadsExportCmd.Flags().String("format", "csv", "export format (csv, xlsx)")
	leadsExportCmd.Flags().String("out", "", "output file (default stdout for csv)")

	rootCmd.AddCommand(leadsCmd)
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, list []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPHONE\tSCORE\tTYPE\tSOURCE\tFAKE")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-----\t----\t------\t----")

	for _, l := range list {
		name := l.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		fake := ""
		if l.IsFake {
			fake = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(l.ID),
			name,
			l.Phone,
			l.LeadScore,
			l.LeadType,
			l.Source,
			fake,
		)
	}
	_ = w.Flush()
}

// formatFakeReport writes the fake-lead summary and samples to w.
func formatFakeReport(out io.Writer, r *leads.FakeReport) {
	_, _ = fmt.Fprintf(out, "%d of %d leads look fake.\n", r.FakeCount, r.TotalCount)
	if r.FakeCount == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tADDRESS\tRULE")
	for _, f := range r.FakeSamples {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(f.ID), f.Name, f.Address, f.Rule)
	}
	_ = w.Flush()
}

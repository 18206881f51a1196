package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-incident/internal/models"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		full     bool
		tenantID string
	)
	cmd := &cobra.Command{
		Use:   "run <alert text>",
		Short: "Process a single alert and print the final report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			rec, dup, err := a.service.Process(ctx, models.RunIncidentRequest{
				Alert:    strings.Join(args, " "),
				TenantID: tenantID,
			})
			if err != nil {
				return err
			}
			if dup {
				fmt.Fprintf(cmd.ErrOrStderr(), "duplicate of %s\n", rec.IncidentID)
			}
			return printRecord(cmd.OutOrStdout(), rec, full)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Print the whole incident record instead of the final report")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant the alert belongs to")
	return cmd
}

func printRecord(w io.Writer, rec models.Record, full bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if full {
		return enc.Encode(rec)
	}
	if rec.FinalReport == nil {
		// Unidentified alerts stop after the trigger stage.
		return enc.Encode(struct {
			IncidentID  string              `json:"incident_id"`
			Service     string              `json:"service"`
			StageErrors []models.StageError `json:"stage_errors,omitempty"`
			Note        string              `json:"note"`
		}{rec.IncidentID, rec.Service, rec.StageErrors, "workflow ended before a decision"})
	}
	return enc.Encode(rec.FinalReport)
}

type scenario struct {
	Name  string
	Alert string
}

var demoScenarios = []scenario{
	{"Database Timeout", "Payment API experiencing database connection timeouts and high error rates"},
	{"Memory Leak", "Auth Service showing memory leak patterns and degraded performance"},
	{"Network Issues", "Load balancer reporting uneven traffic distribution and connection failures"},
	{"High Error Rate", "API Gateway returning 500 errors with elevated failure rate"},
	{"Unknown Service", "Critical system failure in unknown microservice with no clear symptoms"},
}

func newDemoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the sample scenarios concurrently against one pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			results := make([]models.Record, len(demoScenarios))
			elapsed := make([]time.Duration, len(demoScenarios))
			g, gctx := errgroup.WithContext(ctx)
			for i, sc := range demoScenarios {
				i, sc := i, sc
				g.Go(func() error {
					start := time.Now()
					rec, _, err := a.service.Process(gctx, models.RunIncidentRequest{Alert: sc.Alert, TenantID: "demo"})
					if err != nil {
						return fmt.Errorf("%s: %w", sc.Name, err)
					}
					results[i] = rec
					elapsed[i] = time.Since(start)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return printDemo(cmd.OutOrStdout(), results, elapsed)
		},
	}
}

func printDemo(w io.Writer, results []models.Record, elapsed []time.Duration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tINCIDENT\tSERVICE\tDECISION\tSTATUS\tCONFIDENCE\tTOOK")
	for i, rec := range results {
		decision, status := "-", "-"
		if rec.Decision != "" {
			decision = string(rec.Decision)
		}
		if rec.FinalReport != nil {
			status = string(rec.FinalReport.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			demoScenarios[i].Name, rec.IncidentID, rec.Service, decision, status,
			rec.RootCause.ConfidenceOrZero(), elapsed[i].Round(time.Microsecond))
	}
	return tw.Flush()
}

package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/aescanero/flightgraph/internal/config"
	"github.com/spf13/cobra"
)

var planFlags struct {
	file      string
	catalog   string
	asJSON    bool
	refDriver string
	refDSN    string
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the order steps would run in for a flight, without running them",
	RunE:  runPlan,
}

func init() {
	f := planCmd.Flags()
	f.StringVarP(&planFlags.file, "file", "f", "", "Flight JSON file, or - for stdin (required)")
	f.StringVar(&planFlags.catalog, "catalog", "", "Step catalog YAML (default: built-in steps)")
	f.BoolVar(&planFlags.asJSON, "json", false, "Print the plan as JSON")
	f.StringVar(&planFlags.refDriver, "reference-driver", "", "Reference database driver (sqlite3, mysql, postgres)")
	f.StringVar(&planFlags.refDSN, "reference-dsn", "", "Reference database DSN")

	_ = planCmd.MarkFlagRequired("file")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyLocalFlags(cfg, planFlags.catalog, planFlags.refDriver, planFlags.refDSN)

	subs, err := readSubmissions(planFlags.file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	setup, err := newLocalSetup(context.Background(), cfg, false)
	if err != nil {
		return err
	}
	defer setup.close()

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	for _, sub := range subs {
		plan, err := setup.manager.Plan(sub)
		if err != nil {
			return fmt.Errorf("flight %s: %w", sub.FlightID, err)
		}
		if planFlags.asJSON {
			if err := writeJSON(out, plan); err != nil {
				return err
			}
			continue
		}

		fmt.Fprintf(out, "Flight: %s\n", plan.FlightID)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tSTEP\tREQUIRED\tAPPLICABLE\tDEPENDS ON")
		for i, step := range plan.Steps {
			fmt.Fprintf(tw, "%d\t%s\t%t\t%t\t%s\n", i+1, step.Name, step.Required, step.Applicable, strings.Join(step.DependsOn, ", "))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, step := range plan.Steps {
			if !step.Applicable {
				fmt.Fprintln(out, step.Explanation)
			}
		}
	}
	return nil
}

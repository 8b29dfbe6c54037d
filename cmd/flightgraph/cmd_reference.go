package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aescanero/flightgraph/internal/config"
	"github.com/aescanero/flightgraph/pkg/adapters/reference"
	"github.com/spf13/cobra"
)

var referenceFlags struct {
	file   string
	driver string
	dsn    string
}

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Manage the reference database",
}

var referenceLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load airports from a JSON file into the reference database",
	RunE:  runReferenceLoad,
}

func init() {
	f := referenceLoadCmd.Flags()
	f.StringVarP(&referenceFlags.file, "file", "f", "", "Airports JSON array (required)")
	f.StringVar(&referenceFlags.driver, "driver", "", "Database driver (default: REFERENCE_DB_DRIVER)")
	f.StringVar(&referenceFlags.dsn, "dsn", "", "Database DSN (default: REFERENCE_DB_DSN)")

	_ = referenceLoadCmd.MarkFlagRequired("file")
	referenceCmd.AddCommand(referenceLoadCmd)
}

func runReferenceLoad(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyLocalFlags(cfg, "", referenceFlags.driver, referenceFlags.dsn)
	if cfg.Reference.DSN == "" {
		return fmt.Errorf("a reference database DSN is required")
	}

	data, err := os.ReadFile(referenceFlags.file)
	if err != nil {
		return fmt.Errorf("read airports: %w", err)
	}
	var airports []reference.Airport
	if err := json.Unmarshal(data, &airports); err != nil {
		return fmt.Errorf("parse airports: %w", err)
	}

	cmd.SilenceUsage = true
	db, err := reference.Open(cmd.Context(), cfg.Reference.Driver, cfg.Reference.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := reference.InsertAirports(cmd.Context(), db, airports...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d airports\n", len(airports))
	return nil
}

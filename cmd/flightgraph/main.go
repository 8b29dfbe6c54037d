// flightgraph computes derived flight telemetry columns by running a graph of
// processing steps over each flight.
//
// Usage:
//
//	flightgraph serve
//	flightgraph run -f <flight.json> [--sequential] [--catalog <steps.yaml>]
//	flightgraph plan -f <flight.json>
//	flightgraph reference load -f <airports.json> --dsn <dsn>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "flightgraph",
	Short: "Flight telemetry processing with dependency-ordered compute steps",
	Long: "flightgraph derives columns such as UTC time, total fuel and nearest airport\n" +
		"from recorded flight data. Steps declare the columns they need and produce,\n" +
		"and run concurrently in dependency order.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(referenceCmd)
	rootCmd.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command rentwise scores and compares residential communities.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "rentwise",
	Short:        "Community livability scoring",
	Long:         "rentwise gathers area metrics for residential communities, scores them across eight dimensions, and compares pairs.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reviewsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

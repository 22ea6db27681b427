package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/goosewin/cellfill/internal/backend/gemini"
	_ "github.com/goosewin/cellfill/internal/backend/openai"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cellfill",
	Short: "Fill a spreadsheet of prompts with answers from several LLMs",
	Long: "Cellfill sends every pending prompt row of a workbook to each configured LLM backend,\n" +
		"writes the answers side by side and marks the row done so later runs resume where they stopped.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun,
}

func init() {
	registerRunFlags(rootCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

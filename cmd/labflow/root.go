package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "labflow",
	Short: "LabFlow - resilient LLM orchestration for laboratory workflows",
	Long: `LabFlow drafts and reviews laboratory workflows with a language model.

Backends are tried in order (OpenAI, Claude, Gemini) and an offline stand-in
answers when none is configured or all of them fail.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML configuration overlay (overrides LABFLOW_CONFIG)")
}

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/labflow/internal/orchestrator"
)

var statusFlags struct {
	probe bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active backends and configuration",
	Long: `Show the active backends and configuration with API keys masked.

With --probe every backend is sent a short test request.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusFlags.probe, "probe", false, "send a test request to every backend")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.manager.Status(ctx)
	if err != nil {
		return err
	}
	out := struct {
		orchestrator.Status
		Connection *orchestrator.ConnectionReport `json:"connection,omitempty"`
	}{Status: st}

	if statusFlags.probe {
		report, err := a.manager.TestConnection(ctx)
		if err != nil {
			return err
		}
		out.Connection = &report
	}
	return printJSON(cmd, out)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/labflow/internal/pipeline"
)

var analyzeFlags struct {
	feedback string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <workflow.json>",
	Short: "Review the parameters of an existing workflow",
	Long: `Review the parameters of an existing workflow and print an optimized version
with the analysis and recommendations as JSON.

Examples:
  labflow analyze workflow.json
  labflow analyze workflow.json --feedback "cells detach during washing"`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&analyzeFlags.feedback, "feedback", "f", "", "free-text feedback from the last run")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	var wf pipeline.Workflow
	if err := readJSONFile(args[0], &wf); err != nil {
		return err
	}
	if len(wf.Operations) == 0 {
		return fmt.Errorf("workflow %s has no operations", args[0])
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	resp := pipeline.NewAnalyzer(a.manager, a.pipelineOptions()...).Analyze(ctx, pipeline.AnalysisRequest{
		Workflow: wf,
		Feedback: analyzeFlags.feedback,
	})
	return printJSON(cmd, resp)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

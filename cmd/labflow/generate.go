package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/labflow/internal/pipeline"
)

var generateFlags struct {
	catalogFile string
	rationale   bool
	validate    bool
	safety      bool
}

var generateCmd = &cobra.Command{
	Use:   "generate <description>",
	Short: "Generate a workflow from a free-text description",
	Long: `Generate a workflow from a free-text description and print the result as JSON.

Examples:
  labflow generate "Miniprep of an overnight E. coli culture"

  # Restrict the model to a catalog of operation types
  labflow generate --catalog operations.json --validate "ELISA for IL-6"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&generateFlags.catalogFile, "catalog", "", "JSON file with the operation catalog")
	generateCmd.Flags().BoolVar(&generateFlags.rationale, "rationale", false, "ask for a rationale section")
	generateCmd.Flags().BoolVar(&generateFlags.validate, "validate", false, "check operations against the catalog")
	generateCmd.Flags().BoolVar(&generateFlags.safety, "safety", false, "optimize for safety")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	req := pipeline.WorkflowRequest{
		Description: strings.Join(args, " "),
		Options: pipeline.GenerationOptions{
			IncludeRationale:   generateFlags.rationale,
			ValidateParameters: generateFlags.validate,
			OptimizeForSafety:  generateFlags.safety,
		},
	}
	if generateFlags.catalogFile != "" {
		if err := readJSONFile(generateFlags.catalogFile, &req.Context.Catalog); err != nil {
			return err
		}
	}

	resp := pipeline.NewGenerator(a.manager, a.pipelineOptions()...).Generate(ctx, req)
	return printJSON(cmd, resp)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

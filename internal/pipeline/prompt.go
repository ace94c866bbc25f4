package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const generationSystemBase = `You are a laboratory automation assistant. You design workflows as ordered
lists of operations, each with a type and a flat map of parameters.

Always answer with:
1. A fenced code block tagged json containing {"operations":[{"type":"...","parameters":{...}}]}.
2. An "Explanation" section describing the workflow.
3. A "Warnings" section listing risks as bullet points.
4. A "Recommendations" section listing improvements as bullet points.

Safety rules:
- Never exceed the temperature, pressure or speed limits of the equipment.
- Flag hazardous reagents and required protective equipment.
- Prefer conservative parameter values when the description is ambiguous.`

const analysisSystemPrompt = `You are an expert reviewer of laboratory workflows. You check parameter values
for correctness, efficiency and safety.

Always answer with:
1. A fenced code block tagged json containing the optimized workflow as {"operations":[...]}.
   If nothing should change, repeat the workflow unchanged.
2. An "Analysis" section explaining your findings.
3. A "Recommendations" section listing concrete changes as bullet points.`

func generationSystemPrompt(catalog []OperationSpec) string {
	var b strings.Builder
	b.WriteString(generationSystemBase)
	if len(catalog) == 0 {
		b.WriteString("\n\nNo operation catalog was provided; use short snake_case operation types.")
		return b.String()
	}

	b.WriteString("\n\nAvailable operations:\n")
	for _, op := range catalog {
		fmt.Fprintf(&b, "- %s", op.Type)
		if op.Description != "" {
			fmt.Fprintf(&b, ": %s", op.Description)
		}
		b.WriteByte('\n')
		for _, p := range op.Parameters {
			fmt.Fprintf(&b, "    - %s", p.Name)
			if p.Type != "" {
				fmt.Fprintf(&b, " (%s)", p.Type)
			}
			if p.Unit != "" {
				fmt.Fprintf(&b, " [%s]", p.Unit)
			}
			if p.Description != "" {
				fmt.Fprintf(&b, " %s", p.Description)
			}
			b.WriteByte('\n')
		}
	}
	b.WriteString("Only use operation types from this list.")
	return b.String()
}

// GenerationUserPrompt builds the user turn for workflow generation. The
// offline client routes on the first keyword it finds, so the opening
// sentence names the workflow before anything else.
func GenerationUserPrompt(req WorkflowRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a laboratory workflow for the following description:\n\n%s\n", strings.TrimSpace(req.Description))

	if req.Options.IncludeRationale {
		b.WriteString("\nInclude a \"Rationale\" section explaining why each operation and parameter was chosen.")
	}
	if req.Options.ValidateParameters {
		b.WriteString("\nCheck every parameter value against the catalog and physical limits, and list any doubts under Warnings.")
	}
	if req.Options.OptimizeForSafety {
		b.WriteString("\nPrioritise operator and sample safety over speed, and add a \"Safety\" section with required precautions.")
	}

	if len(req.Context.Preferences) > 0 {
		keys := make([]string, 0, len(req.Context.Preferences))
		for k := range req.Context.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nPreferences:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, req.Context.Preferences[k])
		}
	}

	if cur := req.Context.Current; cur != nil && len(cur.Operations) > 0 {
		b.WriteString("\n\nCurrent workflow (extend or revise it):\n")
		b.WriteString(indentedJSON(cur))
	}
	return b.String()
}

// AnalysisUserPrompt builds the user turn for parameter analysis. It names
// the parameters before the workflow so the offline client answers with its
// parameter template.
func AnalysisUserPrompt(req AnalysisRequest) string {
	var b strings.Builder
	b.WriteString("Analyze the parameters of this laboratory workflow and suggest optimizations:\n\n")
	b.WriteString("```json\n")
	b.WriteString(indentedJSON(Workflow{Operations: req.Workflow.Operations}))
	b.WriteString("\n```\n")
	if fb := strings.TrimSpace(req.Feedback); fb != "" {
		fmt.Fprintf(&b, "\nOperator feedback:\n%s\n", fb)
	}
	return b.String()
}

func indentedJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

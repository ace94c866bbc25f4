// LabFlow turns free-text laboratory procedure descriptions into structured
// workflows by calling one of several language model backends, falling back
// across them when one is unavailable.
//
// Usage:
//
//	# Start the HTTP API
//	labflow serve
//
//	# Start with a YAML overlay that is reloaded on change
//	labflow serve --config labflow.yaml
//
//	# Generate a workflow from the command line
//	labflow generate "PCR amplification of a 500bp fragment"
//
//	# Review an existing workflow
//	labflow analyze workflow.json --feedback "yield is low"
//
//	# Show the active backends and probe them
//	labflow status --probe
package main

func main() {
	Execute()
}

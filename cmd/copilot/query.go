package main

import (
	"encoding/json"
	"fmt"

	"copilot/internal/service"
)

// Run executes the query command.
func (c *QueryCmd) Run(deps *Dependencies) error {
	if err := deps.Engine.Ensure(deps.Ctx); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	results := deps.Engine.Query(deps.Ctx, c.Text, c.TopK)

	if c.JSON {
		out := make([]map[string]any, 0, len(results))
		for _, r := range results {
			out = append(out, r.Map())
		}
		enc := json.NewEncoder(deps.Stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(results) == 0 {
		fmt.Fprintln(deps.Stdout, service.FormatNotFound(c.Text, deps.Engine.CorpusDir()))
		return nil
	}
	fmt.Fprint(deps.Stdout, service.FormatResults(c.Text, results))
	return nil
}

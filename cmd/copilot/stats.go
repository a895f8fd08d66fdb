package main

import (
	"encoding/json"
	"fmt"
)

// Run executes the stats command.
func (c *StatsCmd) Run(deps *Dependencies) error {
	if err := deps.Engine.Ensure(deps.Ctx); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	stats := deps.Engine.Stats(deps.Ctx)

	if c.JSON {
		enc := json.NewEncoder(deps.Stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	if stats.TotalChunks == 0 {
		fmt.Fprintf(deps.Stdout, "Index is empty. Add .txt, .md or .pdf files to %s.\n", deps.Engine.CorpusDir())
	} else {
		fmt.Fprintf(deps.Stdout, "%d chunks from %d files\n", stats.TotalChunks, stats.TotalFiles)
		for _, f := range stats.Files {
			fmt.Fprintf(deps.Stdout, "  %s\n", f)
		}
	}

	for _, r := range deps.Engine.LastReport().Skipped() {
		if r.Err != nil {
			fmt.Fprintf(deps.Stdout, "skipped %s (%s: %v)\n", r.Name, r.Reason, r.Err)
			continue
		}
		fmt.Fprintf(deps.Stdout, "skipped %s (%s)\n", r.Name, r.Reason)
	}
	return nil
}

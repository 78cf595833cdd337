package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
)

func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func printSyncResult(w io.Writer, scope tracker.Scope, result *tracker.SyncResult) {
	mark := "✓"
	if !result.Success {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s: %s\n", mark, scope, result.Status)
	st := result.Stats
	fmt.Fprintf(w, "  candidates %d, batches %d, created %d, failed %d, deprecated %d\n",
		st.Candidates, st.Batches, st.Created, st.Failed, st.Deprecated)
	if result.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", result.Error)
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

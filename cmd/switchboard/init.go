package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/switchboard/examples"
	"github.com/nugget/switchboard/internal/guardrails"
)

// runInit prepares a working directory: the data directory, an example
// config.yaml and an editable copy of the guardrail term lists.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Switchboard workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	files := []struct {
		name    string
		content []byte
		perm    os.FileMode
	}{
		// The config may hold secrets once edited.
		{"config.yaml", examples.ConfigYAML, 0o600},
		{"patterns.yaml", guardrails.DefaultPatternsYAML(), 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		written, err := writeIfMissing(path, f.content, f.perm)
		if err != nil {
			return err
		}
		mark := "✓"
		if !written {
			mark = "-"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, then create a user with:")
	fmt.Fprintln(w, "  switchboard user add <username> <password>")
	return nil
}

// writeIfMissing writes content to path unless the file already exists,
// reporting whether it wrote.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// Package report reads and writes JSON report files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	dreport "booking-stats/domain/report"
)

// Write stores r as indented JSON. The file is written to a temp path first and
// renamed so readers never see a partial report.
func Write(path string, r dreport.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename report: %w", err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (dreport.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dreport.Report{}, err
	}
	var r dreport.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return dreport.Report{}, fmt.Errorf("failed to unmarshal report %s: %w", path, err)
	}
	return r, nil
}

// List returns the sources of every report file in dir, sorted by name.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if src, ok := dreport.SourceFromFileName(e.Name()); ok {
			out = append(out, src)
		}
	}
	return out, nil
}

// Package report persists the most recent batch report as a JSON file.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"MarketPipeline/internal/model"
)

// ErrNoReport is returned by Load when no batch has been recorded yet.
var ErrNoReport = errors.New("no batch report recorded")

// Load reads the last batch report from path.
func Load(path string) (*model.BatchStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	var stats model.BatchStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &stats, nil
}

// Save writes the batch report to path, replacing any previous one. The file
// is written to a sibling temp file first and renamed into place.
func Save(path string, stats *model.BatchStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}

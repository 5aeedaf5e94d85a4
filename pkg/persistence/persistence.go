// Package persistence stores handshake reports on disk.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"chapcrack-go/pkg/report"
)

// SaveReports writes reports to path as JSON. The file is replaced atomically.
func SaveReports(reports []report.HandshakeReport, path string, logger zerolog.Logger) error {
	logger.Info().Str("path", path).Int("count", len(reports)).Msg("Saving handshake reports")

	if reports == nil {
		reports = []report.HandshakeReport{}
	}
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal reports to JSON: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0640); err != nil {
		return fmt.Errorf("failed to write temporary report file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temporary report file: %w", err)
	}
	return nil
}

// LoadReports reads reports written by SaveReports. A missing file yields no reports.
func LoadReports(path string, logger zerolog.Logger) ([]report.HandshakeReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug().Str("path", path).Msg("Report file does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var reports []report.HandshakeReport
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report file %s: %w", path, err)
	}
	return reports, nil
}

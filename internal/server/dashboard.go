package server

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed dashboard/index.html
var defaultDashboard []byte

// LoadDashboard reads the dashboard page from path, or returns the
// built-in page when path is empty.
func LoadDashboard(path string) ([]byte, error) {
	if path == "" {
		return defaultDashboard, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dashboard: %w", err)
	}
	return b, nil
}

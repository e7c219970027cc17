package paths

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the base data directory for the print server.
// LABELPRINT_DATA_DIR overrides the default of ./data.
func GetDataDir() string {
	if dir := os.Getenv("LABELPRINT_DATA_DIR"); dir != "" {
		return dir
	}
	return "data"
}

// GetDBPath returns the sqlite database path.
func GetDBPath() string {
	return filepath.Join(GetDataDir(), "labelprint.db")
}

// GetOutputDir returns the directory used for debug bitmap dumps.
func GetOutputDir() string {
	return filepath.Join(GetDataDir(), "output")
}

// EnsureDataDirs creates the data directories if they do not exist.
func EnsureDataDirs() error {
	for _, dir := range []string{GetDataDir(), GetOutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

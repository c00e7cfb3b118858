package constant

import (
	"os"
	"path/filepath"
)

// Environment variable names.
const (
	EnvConfigFile = "CONFIG_FILE"
	EnvDataDir    = "DATA_DIR"
	EnvLogLevel   = "LOG_LEVEL"
)

// Defaults.
const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 8099
	DefaultConfigFile = "plexus.yaml"
	DBFileName        = "plexus.db"
	LogFileName       = "plexus.log"
)

// DataDir resolves the persistence root: DATA_DIR or ~/.plexus.
func DataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plexus"
	}
	return filepath.Join(home, ".plexus")
}

// ConfigFile resolves the configuration path: CONFIG_FILE or
// <DataDir>/plexus.yaml.
func ConfigFile() string {
	if f := os.Getenv(EnvConfigFile); f != "" {
		return f
	}
	return filepath.Join(DataDir(), DefaultConfigFile)
}

// DBFile returns the sqlite database path under the given base directory.
func DBFile(baseDir string) string {
	return filepath.Join(baseDir, DBFileName)
}

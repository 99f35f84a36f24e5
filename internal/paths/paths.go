package paths

import (
	"errors"
	"os"
	"path/filepath"
)

const EnvHome = "RESCUELINK_HOME"

const ConfigFile = "config.yaml"

func HomeDir() (string, error) {
	if v := os.Getenv(EnvHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if home == "" {
		return "", errors.New("home directory not found")
	}
	return filepath.Join(home, ".rescuelink"), nil
}

func EnsureDir(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	return os.MkdirAll(path, 0700)
}

// ConfigPath is the default config location inside homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, ConfigFile)
}

// LogsDir holds rotated log files when rotation has no explicit filename.
func LogsDir(homeDir string) string {
	return filepath.Join(homeDir, "logs")
}

func ResolveInHome(homeDir, rel string) string {
	if rel == "" {
		return homeDir
	}
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(homeDir, rel)
}

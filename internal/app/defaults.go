package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment overrides for the default locations.
const (
	EnvConfigPath = "DUPSCAN_CONFIG_PATH"
	EnvHome       = "DUPSCAN_HOME"
)

// Defaults holds the locations dupscan uses when the config file does not
// say otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves the default locations. An explicit DUPSCAN_* variable
// wins, then the XDG base directory, then the conventional path under $HOME.
func GetDefaults() (Defaults, error) {
	configPath, err := resolvePath(EnvConfigPath, "XDG_CONFIG_HOME", []string{".config"}, "dupscan.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := resolvePath(EnvHome, "XDG_DATA_HOME", []string{".local", "share"}, "dupscan")
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolvePath returns $env verbatim if set, else name under $xdg, else name
// under the home-relative fallback dirs.
func resolvePath(env, xdg string, fallback []string, name string) (string, error) {
	if p := os.Getenv(env); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdg); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving %s: cannot determine home directory: %w", env, err)
	}
	return filepath.Join(append(append([]string{home}, fallback...), name)...), nil
}

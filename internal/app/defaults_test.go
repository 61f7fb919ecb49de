package app

import (
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	home := t.TempDir()

	tests := []struct {
		name string
		env  map[string]string
		want Defaults
	}{
		{
			name: "explicit overrides",
			env: map[string]string{
				EnvConfigPath:     "/custom/dupscan.toml",
				EnvHome:           "/custom/dupscan",
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			want: Defaults{
				ConfigPath: "/custom/dupscan.toml",
				BaseDir:    "/custom/dupscan",
				LogDir:     "/custom/dupscan/log",
			},
		},
		{
			name: "xdg directories",
			env: map[string]string{
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			want: Defaults{
				ConfigPath: "/xdg/config/dupscan.toml",
				BaseDir:    "/xdg/data/dupscan",
				LogDir:     "/xdg/data/dupscan/log",
			},
		},
		{
			name: "relative xdg ignored",
			env: map[string]string{
				"XDG_CONFIG_HOME": "config",
			},
			want: Defaults{
				ConfigPath: filepath.Join(home, ".config", "dupscan.toml"),
				BaseDir:    filepath.Join(home, ".local", "share", "dupscan"),
				LogDir:     filepath.Join(home, ".local", "share", "dupscan", "log"),
			},
		},
		{
			name: "home fallback",
			want: Defaults{
				ConfigPath: filepath.Join(home, ".config", "dupscan.toml"),
				BaseDir:    filepath.Join(home, ".local", "share", "dupscan"),
				LogDir:     filepath.Join(home, ".local", "share", "dupscan", "log"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", home)
			for _, k := range []string{EnvConfigPath, EnvHome, "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(k, tt.env[k])
			}

			got, err := GetDefaults()
			if err != nil {
				t.Fatalf("GetDefaults() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("GetDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

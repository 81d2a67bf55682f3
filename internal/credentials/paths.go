package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// appDirName is the application's directory under the OS config location.
const appDirName = "Antigravity"

// DefaultDatabasePath returns the state database location for the running OS.
func DefaultDatabasePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return databasePathFor(runtime.GOOS, home, os.Getenv)
}

// databasePathFor resolves the OS-conventional application-data location.
func databasePathFor(goos, home string, getenv func(string) string) (string, error) {
	var base string
	switch goos {
	case "windows":
		base = getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
	case "darwin":
		base = filepath.Join(home, "Library", "Application Support")
	case "linux":
		base = getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
	default:
		return "", errors.New("no known state database location for " + goos)
	}
	return filepath.Join(base, appDirName, "User", "globalStorage", "state.vscdb"), nil
}

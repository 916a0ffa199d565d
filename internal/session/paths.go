package session

import (
	"os"
	"path/filepath"

	"github.com/bayup/wabridge/internal/config"
)

// BaseDir returns $WABRIDGE_HOME, or ~/.wabridge when unset.
func BaseDir() string {
	if dir := os.Getenv(config.EnvHome); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wabridge")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the control socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "wabridged.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// SessionDBPath returns the whatsmeow session.db path.
func SessionDBPath(name string) string {
	return filepath.Join(Dir(name), "session.db")
}

// AppDBPath returns the app-owned wabridge.db path.
func AppDBPath(name string) string {
	return filepath.Join(Dir(name), "wabridge.db")
}

// QRPath returns the default pairing image path.
func QRPath(name string) string {
	return filepath.Join(Dir(name), "SCAN_ME.png")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "wabridged.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

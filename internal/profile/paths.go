package profile

import (
	"os"
	"path/filepath"
)

// BaseDirEnv overrides the base directory, mainly for tests and containers.
const BaseDirEnv = "SMSDESK_HOME"

// BaseDir returns $SMSDESK_HOME or ~/.smsdesk.
func BaseDir() string {
	if dir := os.Getenv(BaseDirEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smsdesk")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the daemon lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the sqlite data store path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "smsdesk.db")
}

// AttachmentDir holds uploaded attachment files served by the daemon.
func AttachmentDir(name string) string {
	return filepath.Join(Dir(name), "attachments")
}

// DownloadDir is the default target for attachment downloads from the console.
func DownloadDir(name string) string {
	return filepath.Join(Dir(name), "downloads")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "smsdeskd.log")
}

// ConsoleLogPath returns the console log file path.
func ConsoleLogPath(name string) string {
	return filepath.Join(LogDir(name), "smsdesk.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), AttachmentDir(name), DownloadDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

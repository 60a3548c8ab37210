package config

import (
	"os"
	"path/filepath"

	"github.com/openagents/openagents/internal/constants"
)

// StateDir returns the per-project state directory (<root>/.openagents).
func StateDir(rootDir string) string {
	return filepath.Join(rootDir, constants.OpenAgentsDir)
}

// ProjectConfigPath returns the project config path for a root.
func ProjectConfigPath(rootDir string) string {
	return filepath.Join(StateDir(rootDir), constants.ProjectConfigFile)
}

// TasksPath returns the JSONL backlog path for a root.
func TasksPath(rootDir string) string {
	return filepath.Join(StateDir(rootDir), constants.TasksFile)
}

// TasksArchivePath returns the archived-tasks path for a root.
func TasksArchivePath(rootDir string) string {
	return filepath.Join(StateDir(rootDir), constants.TasksArchiveFile)
}

// TrajectoryPath returns the trajectory file path for a session.
func TrajectoryPath(rootDir, sessionID string) string {
	return filepath.Join(StateDir(rootDir), constants.TrajectoriesDir, sessionID+".json")
}

// ProgressPath returns the progress memo path for a root.
func ProgressPath(rootDir string) string {
	return filepath.Join(StateDir(rootDir), constants.ProgressFile)
}

// SessionLockPath returns the session lock path for a root.
func SessionLockPath(rootDir string) string {
	return filepath.Join(StateDir(rootDir), constants.SessionLockFile)
}

// GreenCommitPath returns the last-known-green commit record path.
func GreenCommitPath(rootDir string) string {
	return filepath.Join(StateDir(rootDir), constants.GreenCommitFile)
}

// UserConfigPath returns the user-level config path (~/.openagents/config.yaml)
// or "" when the home directory cannot be determined.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, constants.OpenAgentsDir, "config.yaml")
}

// UserLogDir returns the user-level log directory (~/.openagents/logs)
// or "" when the home directory cannot be determined.
func UserLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, constants.OpenAgentsDir, "logs")
}

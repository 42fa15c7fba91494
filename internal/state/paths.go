// Package state centralizes filesystem locations for axd runtime artifacts.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

const rootDirName = ".cua"

// RootDir returns the daemon's fixed runtime state root, $HOME/.cua.
// Unlike a cascading XDG lookup, this location is fixed per spec so that
// the socket, PID file and config file all live at well-known paths.
func RootDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, rootDirName), nil
}

// SockFile returns the Unix-domain socket path for the local request server.
func SockFile() (string, error) {
	return InRoot("sock")
}

// PIDFile returns the daemon's PID file path.
func PIDFile() (string, error) {
	return InRoot("pid")
}

// ConfigFile returns the JSON config file path.
func ConfigFile() (string, error) {
	return InRoot("config.json")
}

// ProcessGroupsFile returns the process-group persistence file path.
func ProcessGroupsFile() (string, error) {
	return InRoot("process-groups.json")
}

// InRoot returns a path rooted under RootDir with additional path elements,
// creating RootDir if it does not already exist.
func InRoot(parts ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return "", fmt.Errorf("cannot create state root %s: %w", root, err)
	}
	all := make([]string, 0, len(parts)+1)
	all = append(all, root)
	all = append(all, parts...)
	return filepath.Join(all...), nil
}

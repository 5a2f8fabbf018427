// Package paths expands user-facing path notation from the config file.
// YAML values like "~/agents/project" are resolved once at load time so
// the rest of the program only ever sees literal paths.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome replaces a leading ~ with the user's home directory. Paths
// without a tilde, and paths like "~user/...", are returned unchanged.
// If the home directory cannot be determined the input is returned
// unchanged rather than failing config load.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}

// ExpandHomeAll applies [ExpandHome] to each element in place and
// returns the slice.
func ExpandHomeAll(ps []string) []string {
	for i, p := range ps {
		ps[i] = ExpandHome(p)
	}
	return ps
}

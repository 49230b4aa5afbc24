package conf

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPaths returns the directories searched for rtcore.yaml, in
// order: the working directory, the per-user config directory and, outside
// Windows, /etc/rtcore.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "rtcore"))
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/rtcore")
	}
	return paths
}

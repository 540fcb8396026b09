//go:build windows

package server

import "path/filepath"

// getPlatformAbsPath returns a clean absolute project path.
func getPlatformAbsPath() string {
	return filepath.Join("C:\\", "srv", "app")
}

// conf/utils.go
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	paths := []string{"."}
	switch runtime.GOOS {
	case "windows":
		exePath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("error fetching executable path: %w", err)
		}
		paths = append(paths, filepath.Dir(exePath), filepath.Join(homeDir, "AppData", "Local", "pneumai"))
	default:
		paths = append(paths, filepath.Join(homeDir, ".config", "pneumai"), "/etc/pneumai")
	}
	return paths, nil
}

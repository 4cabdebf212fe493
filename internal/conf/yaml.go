// conf/yaml.go writing configuration files
package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pneumai/pneumai-go/internal/logger"
)

// Defaults returns a Settings struct populated only from built-in defaults.
func Defaults() (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling defaults: %w", err)
	}
	return settings, nil
}

// WriteDefault writes the built-in defaults to path as YAML. An existing file
// is left untouched unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	settings, err := Defaults()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	// Secrets may be filled in later, keep the file private
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	GetLogger().Info("wrote default config", logger.String("path", path))
	return nil
}

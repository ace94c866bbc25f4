package config

import (
	"fmt"
	"os"
)

// LoadFile decodes a YAML configuration overlay. Keys that Update does not
// know are an error.
func LoadFile(path string) (Update, error) {
	f, err := os.Open(path)
	if err != nil {
		return Update{}, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	defer f.Close()

	u, err := DecodeUpdateYAML(f)
	if err != nil {
		return Update{}, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return u, nil
}

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is an on-disk nodewarden configuration: explicit per-network settings
// keyed by network name, merged over environment defaults at connector
// creation.
type File struct {
	Networks map[string]*Overrides `yaml:"networks"`
}

// LoadFile reads a YAML configuration file. ${VAR_NAME} references are
// replaced with environment variable values before parsing, so credentials
// can stay out of the file itself.
func LoadFile(filePath string) (*File, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(content), &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// A listed network with no settings still gets an entry; unset fields
	// fall back to env and defaults at connector creation.
	for name, o := range f.Networks {
		if o == nil {
			f.Networks[name] = &Overrides{}
		}
	}
	return &f, nil
}

// SaveFile writes a configuration file in YAML.
func SaveFile(filePath string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}

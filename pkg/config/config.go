// Package config handles the harness configuration file (goofy.yaml).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values used when goofy.yaml leaves a setting out.
const (
	DefaultListen        = "127.0.0.1:4012"
	DefaultPytestCommand = "python3 -m cros.factory.test.run_pytest {pytest} --args {args}"
	DefaultPytestTimeout = 30 * time.Minute
)

// Config represents the station configuration (goofy.yaml).
type Config struct {
	// Test list sources. Private documents shadow public ones.
	TestLists TestListDirs `yaml:"testLists"`

	// StateDir holds the state database, event log and report.
	StateDir string `yaml:"stateDir"`

	// Listen is the HTTP address of the serve command.
	Listen string `yaml:"listen"`

	Pytest PytestConfig `yaml:"pytest"`

	// DeviceData seeds the device-data shelf on first start.
	DeviceData map[string]interface{} `yaml:"deviceData"`

	// Watch reloads test lists when their files change.
	Watch bool `yaml:"watch"`

	// Translations is a YAML catalog of {locale: {key: translation}}.
	Translations string `yaml:"translations"`
}

// TestListDirs names the directories searched for test list documents.
type TestListDirs struct {
	Public  string `yaml:"public"`
	Private string `yaml:"private"`
}

// PytestConfig configures the subprocess invoker.
type PytestConfig struct {
	// Command is split like a shell command line. {pytest} and {args} are
	// replaced with the pytest name and the arguments file.
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
	WorkDir string        `yaml:"workDir"`
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromDir looks for goofy.yaml or goofy.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"goofy.yaml", "goofy.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, use defaults
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TestLists.Public == "" {
		c.TestLists.Public = GetTestListDir()
	}
	if c.StateDir == "" {
		c.StateDir = GetStateDir()
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Pytest.Command == "" {
		c.Pytest.Command = DefaultPytestCommand
	}
	if c.Pytest.Timeout == 0 {
		c.Pytest.Timeout = DefaultPytestTimeout
	}
}

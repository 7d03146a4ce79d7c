// Package cli provides the command-line interface for goofy.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/arccode/factory-sub002/pkg/config"
	"github.com/arccode/factory-sub002/pkg/i18n"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to goofy.yaml (default: <home>/goofy.yaml)",
		EnvVars: []string{"GOOFY_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "test-lists",
		Usage:   "Directory of public test list documents",
		EnvVars: []string{"GOOFY_TEST_LISTS"},
	},
	&cli.StringFlag{
		Name:    "private-test-lists",
		Usage:   "Directory of private test list documents, shadowing public ones",
		EnvVars: []string{"GOOFY_PRIVATE_TEST_LISTS"},
	},
	&cli.StringFlag{
		Name:    "state-dir",
		Usage:   "Directory for the state database, event log and report",
		EnvVars: []string{"GOOFY_STATE_DIR"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable verbose logging",
		EnvVars: []string{"GOOFY_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write logs to this file instead of stderr",
		EnvVars: []string{"GOOFY_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the goofy command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "goofy",
		Usage:   "Factory test harness",
		Version: Version,
		Description: `goofy loads factory test lists, runs their tests against the device
and keeps the state of every test across restarts.

Examples:
  goofy list
  goofy check --pytest-dir py/test/pytests
  goofy run main --path SMT
  goofy serve --listen 0.0.0.0:4012`,
		Flags:  GlobalFlags,
		Before: setupLogging,
		After: func(*cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			listCommand,
			activateCommand,
			checkCommand,
			showCommand,
			evalCommand,
			runCommand,
			serveCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(c *cli.Context) error {
	if c.Bool("no-ansi") {
		colorsEnabled = false
	}
	logger.SetVerbose(c.Bool("verbose"))
	if path := c.String("log-file"); path != "" {
		return logger.Init(path)
	}
	logger.SetOutput(os.Stderr)
	return nil
}

// station is what every command needs: the configuration and the test
// lists it points at.
type station struct {
	cfg     *config.Config
	manager *testlist.Manager
}

// loadConfig reads goofy.yaml and applies the global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetHome())
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if v := c.String("test-lists"); v != "" {
		cfg.TestLists.Public = v
	}
	if v := c.String("private-test-lists"); v != "" {
		cfg.TestLists.Private = v
	}
	if v := c.String("state-dir"); v != "" {
		cfg.StateDir = v
	}
	return cfg, nil
}

func openStation(c *cli.Context) (*station, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	var catalog *i18n.Catalog
	if cfg.Translations != "" {
		catalog, err = i18n.LoadCatalog(cfg.Translations)
		if err != nil {
			return nil, fmt.Errorf("loading translations: %w", err)
		}
	}

	loader := testlist.NewLoader(cfg.TestLists.Public, cfg.TestLists.Private)
	logger.Debug("Test lists: public=%s private=%s", cfg.TestLists.Public, cfg.TestLists.Private)
	return &station{cfg: cfg, manager: testlist.NewManager(loader, catalog)}, nil
}

// testList returns the list named by the first argument, or the active one.
func (s *station) testList(c *cli.Context) (*testlist.TestList, error) {
	if id := c.Args().First(); id != "" {
		return s.manager.Get(id)
	}
	return s.manager.Active()
}

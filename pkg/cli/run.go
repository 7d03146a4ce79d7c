package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"code.cloudfoundry.org/clock"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/arccode/factory-sub002/pkg/config"
	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/goofy"
	"github.com/arccode/factory-sub002/pkg/invoker/mock"
	"github.com/arccode/factory-sub002/pkg/invoker/pytest"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/report"
	"github.com/arccode/factory-sub002/pkg/server"
	"github.com/arccode/factory-sub002/pkg/store"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// engineFlags configure how tests are invoked, shared by run and serve.
var engineFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "pytest-command",
		Usage:   "Command template for one test, with {pytest}, {args}, {result} and {path} placeholders",
		EnvVars: []string{"GOOFY_PYTEST_COMMAND"},
	},
	&cli.DurationFlag{
		Name:  "pytest-timeout",
		Usage: "Time limit of one test invocation",
	},
	&cli.BoolFlag{
		Name:  "mock",
		Usage: "Pass every test without running it",
	},
	&cli.StringFlag{
		Name:  "report-dir",
		Usage: "Directory of report.json (default: <state-dir>/report)",
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run tests of a test list and wait for them to finish",
	ArgsUsage: "[test-list-id]",
	Description: `Runs the tests of the given or active test list. State is saved in the
state directory, so tests that already passed keep their status across
invocations.

Examples:
  goofy run                      # every test
  goofy run --path SMT           # one group
  goofy run --filter UNTESTED    # only tests that never ran
  goofy run --retry-failed
  goofy run --restart --path SMT.Audio`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "path",
			Usage: "Run only the tests under this path",
		},
		&cli.StringSliceFlag{
			Name:  "filter",
			Usage: "Run only tests with these statuses (UNTESTED, ACTIVE, PASSED, FAILED)",
		},
		&cli.BoolFlag{
			Name:  "restart",
			Usage: "Clear the state under --path before running",
		},
		&cli.BoolFlag{
			Name:  "retry-failed",
			Usage: "Rerun every failed test",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "Continue at every barrier without asking",
		},
	}, engineFlags...),
	Action: runRun,
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the active test list and serve the HTTP API",
	Description: `Starts the engine for the active test list, applies its start-up options
and serves the HTTP API used by operator UIs. Barriers wait for an answer
on POST /api/barriers/{id}.`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "HTTP listen address",
			EnvVars: []string{"GOOFY_LISTEN"},
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "Watch test list files and report changes",
		},
	}, engineFlags...),
	Action: runServe,
}

// session wires the engine to its state store and report.
type session struct {
	tl      *testlist.TestList
	db      *store.Store
	index   *report.IndexWriter
	invoker core.Invoker
	states  map[string]core.RunState
}

func openSession(c *cli.Context, st *station, tl *testlist.TestList) (*session, error) {
	cfg := st.cfg
	db, err := store.Open(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	s := &session{tl: tl, db: db}

	if err := seedDeviceData(c.Context, db, cfg.DeviceData); err != nil {
		s.Close()
		return nil, err
	}
	s.states, err = db.LoadStates(c.Context)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.invoker, err = newInvoker(c, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	reportDir := c.String("report-dir")
	if reportDir == "" {
		reportDir = filepath.Join(cfg.StateDir, "report")
	}
	index := report.BuildSkeleton(tl, report.BuilderConfig{
		OutputDir: reportDir,
		Device:    deviceReport(c.Context, db),
		States:    s.states,
	})
	s.index = report.NewIndexWriter(reportDir, index, clock.NewClock())
	logger.Info("Report: %s", s.index.Path())
	return s, nil
}

func (s *session) engine(operator core.Operator, noStartRuns bool, observers ...core.Observer) (*goofy.Engine, error) {
	all := []core.Observer{s.db}
	if s.index != nil {
		all = append(all, s.index)
	}
	return goofy.New(goofy.Config{
		TestList:      s.tl,
		Invoker:       s.invoker,
		Operator:      operator,
		Device:        s.db,
		StateProxy:    s.db.Shelf().Proxy(),
		Observers:     append(all, observers...),
		InitialStates: s.states,
		NoStartRuns:   noStartRuns,
	})
}

// Close flushes the report and closes the store.
func (s *session) Close() {
	if s.index != nil {
		s.index.Close()
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("Closing state store: %v", err)
	}
}

func newInvoker(c *cli.Context, cfg *config.Config) (core.Invoker, error) {
	if c.Bool("mock") {
		logger.Info("Using the mock invoker; no test is actually run")
		return mock.New(mock.Config{}), nil
	}
	pc := pytest.Config{
		Command:     cfg.Pytest.Command,
		Timeout:     cfg.Pytest.Timeout,
		WorkDir:     cfg.Pytest.WorkDir,
		ArtifactDir: cfg.StateDir,
	}
	if v := c.String("pytest-command"); v != "" {
		pc.Command = v
	}
	if v := c.Duration("pytest-timeout"); v > 0 {
		pc.Timeout = v
	}
	return pytest.New(pc)
}

// seedDeviceData copies configured device data into the store, keeping
// values the store already has.
func seedDeviceData(ctx context.Context, db *store.Store, seed map[string]interface{}) error {
	if len(seed) == 0 {
		return nil
	}
	existing, err := db.DeviceData(ctx)
	if err != nil {
		return err
	}
	missing := make(map[string]interface{})
	for k, v := range seed {
		if _, ok := existing[k]; !ok {
			missing[k] = v
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return db.UpdateDeviceData(ctx, missing)
}

func deviceReport(ctx context.Context, src core.DeviceDataSource) report.Device {
	var d report.Device
	d.Hostname, _ = os.Hostname()
	if data, err := src.DeviceData(ctx); err == nil {
		if sn, ok := data["serial_number"].(string); ok {
			d.SerialNumber = sn
		}
	}
	return d
}

func runRun(c *cli.Context) error {
	var filter []core.TestStatus
	for _, name := range c.StringSlice("filter") {
		status, err := core.ParseStatus(name)
		if err != nil {
			return err
		}
		filter = append(filter, status)
	}
	if c.Bool("retry-failed") && (c.Bool("restart") || len(filter) > 0) {
		return fmt.Errorf("--retry-failed cannot be combined with --restart or --filter")
	}

	st, err := openStation(c)
	if err != nil {
		return err
	}
	tl, err := st.testList(c)
	if err != nil {
		return err
	}
	s, err := openSession(c, st, tl)
	if err != nil {
		return err
	}
	defer s.Close()

	var operator core.Operator
	if !c.Bool("yes") {
		operator = newPrompt(os.Stdin, c.App.Writer)
	}
	engine, err := s.engine(operator, true, newConsole(c.App.Writer, tl))
	if err != nil {
		return err
	}

	engineCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(engineCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	path := c.String("path")
	switch {
	case c.Bool("retry-failed"):
		err = engine.RetryFailed()
	case c.Bool("restart"):
		err = engine.RestartTests(path)
	default:
		err = engine.RunTests(path, filter...)
	}
	if err != nil {
		return err
	}

	// The first interrupt stops the run; teardown tests still get to run.
	sigCtx, stopSignals := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	finished := make(chan struct{})
	go func() {
		select {
		case <-sigCtx.Done():
			logger.Warn("Interrupted, stopping the run")
			if err := engine.Stop("interrupted"); err != nil {
				logger.Warn("Stopping run: %v", err)
			}
		case <-finished:
		}
	}()
	err = engine.Wait(context.Background())
	close(finished)
	if err != nil {
		return err
	}

	last, ok := engine.LastRun()
	if !ok {
		return nil
	}
	if last.Summary.Failed > 0 {
		return fmt.Errorf("%d test(s) failed", last.Summary.Failed)
	}
	if last.Stopped {
		return fmt.Errorf("run stopped: %s", last.Reason)
	}
	return nil
}

func runServe(c *cli.Context) error {
	st, err := openStation(c)
	if err != nil {
		return err
	}
	tl, err := st.manager.Active()
	if err != nil {
		return err
	}
	s, err := openSession(c, st, tl)
	if err != nil {
		return err
	}
	defer s.Close()

	barriers := server.NewBarriers()
	engine, err := s.engine(barriers, false, logObserver(tl))
	if err != nil {
		return err
	}
	srv := server.New(engine, barriers, server.WithStore(s.db), server.WithManager(st.manager))

	listen := c.String("listen")
	if listen == "" {
		listen = st.cfg.Listen
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(ctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx, listen)
	})
	if c.Bool("watch") || st.cfg.Watch {
		w := testlist.NewWatcher(st.manager, func(ids []string) {
			reportChanges(st.manager, tl.ID)
		})
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	logger.Info("Serving test list %s (%d tests)", tl.ID, len(tl.Root.Leaves()))
	return g.Wait()
}

// reportChanges rebuilds the running list after its files changed so that
// errors show up in the log and in /api/test-lists.
func reportChanges(m *testlist.Manager, running string) {
	active, err := m.Loader().ActiveID()
	if err != nil {
		logger.Error("Reading active test list: %v", err)
		return
	}
	if active != running {
		logger.Warn("Active test list is now %s; restart to run it", active)
	}
	if _, err := m.Get(running); err != nil {
		logger.Error("Test list %s no longer builds: %v", running, err)
		return
	}
	logger.Info("Test list %s changed; restart to run the new version", running)
}

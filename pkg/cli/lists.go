package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/arccode/factory-sub002/pkg/expr"
	"github.com/arccode/factory-sub002/pkg/testlist"
	"github.com/arccode/factory-sub002/pkg/validator"
)

var listCommand = &cli.Command{
	Name:   "list",
	Usage:  "List the available test lists",
	Action: runList,
}

var activateCommand = &cli.Command{
	Name:      "activate",
	Usage:     "Select the test list the station runs",
	ArgsUsage: "<test-list-id>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Activate the list even if it does not build",
		},
	},
	Action: runActivate,
}

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "Build test lists and report every problem",
	ArgsUsage: "[test-list-id]...",
	Description: `Builds the named test lists, or all of them, and prints every
error and warning found. Exits non-zero if any list has errors.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "pytest-dir",
			Usage:   "Check that every pytest_name has a module under this directory",
			EnvVars: []string{"GOOFY_PYTEST_DIR"},
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of lists built concurrently",
			Value: 4,
		},
	},
	Action: runCheck,
}

var showCommand = &cli.Command{
	Name:      "show",
	Usage:     "Print the test tree of a test list",
	ArgsUsage: "[test-list-id]",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the tree as JSON",
		},
		&cli.StringFlag{
			Name:  "locale",
			Usage: "Locale of the printed labels",
			Value: "en-US",
		},
	},
	Action: runShow,
}

var evalCommand = &cli.Command{
	Name:      "eval",
	Usage:     "Evaluate an expression the way test arguments are evaluated",
	ArgsUsage: "<expression>",
	Description: `Evaluates an expression against the constants, options and device
data of a test list, e.g.

  goofy eval 'constants.retries * 2'
  goofy eval --list generic 'device.serial_number'`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "list",
			Usage: "Test list to evaluate in (default: the active list)",
		},
	},
	Action: runEval,
}

func runList(c *cli.Context) error {
	st, err := openStation(c)
	if err != nil {
		return err
	}
	loader := st.manager.Loader()
	ids, err := loader.FindIDs()
	if err != nil {
		return err
	}
	active, err := loader.ActiveID()
	if err != nil {
		return err
	}

	w := c.App.Writer
	if len(ids) == 0 {
		fmt.Fprintf(w, "No test lists found in %s\n", strings.Join(loader.Watched(), ", "))
		return nil
	}
	for _, id := range ids {
		marker := " "
		if id == active {
			marker = "*"
		}
		tl, err := st.manager.Get(id)
		if err != nil {
			fmt.Fprintf(w, "%s %-24s %sERROR%s %v\n", marker, id, color(colorRed), color(colorReset), err)
			continue
		}
		fmt.Fprintf(w, "%s %-24s %4d tests  %s\n", marker, id, len(tl.Root.Leaves()), tl.Label.Default())
	}
	return nil
}

func runActivate(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a test list id is required")
	}
	st, err := openStation(c)
	if err != nil {
		return err
	}
	if !c.Bool("force") {
		if _, err := st.manager.Build(id); err != nil {
			return fmt.Errorf("test list %s does not build (use --force to activate anyway): %w", id, err)
		}
	}
	if err := st.manager.Loader().SetActiveID(id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Active test list: %s\n", id)
	return nil
}

func runCheck(c *cli.Context) error {
	st, err := openStation(c)
	if err != nil {
		return err
	}
	opts := []validator.Option{validator.WithWorkers(c.Int("workers"))}
	if dir := c.String("pytest-dir"); dir != "" {
		opts = append(opts, validator.WithPytestDir(dir))
	}

	result, err := validator.New(st.manager, opts...).Validate(c.Context, c.Args().Slice()...)
	if err != nil {
		return err
	}

	w := c.App.Writer
	for _, l := range result.Lists {
		fmt.Fprintf(w, "%s✓%s %s (%d tests, %s)\n",
			color(colorGreen), color(colorReset), l.ID, l.Tests, strings.Join(l.Chain, " > "))
		for _, warning := range l.Warnings {
			fmt.Fprintf(w, "  %s⚠%s %s\n", color(colorYellow), color(colorReset), warning)
		}
	}
	if result.IsValid() {
		return nil
	}
	for _, e := range result.Errors.Errors {
		fmt.Fprintf(w, "%s✗%s %v\n", color(colorRed), color(colorReset), e)
	}
	return fmt.Errorf("%d problem(s) found", len(result.Errors.Errors))
}

func runShow(c *cli.Context) error {
	st, err := openStation(c)
	if err != nil {
		return err
	}
	tl, err := st.testList(c)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(tl.Root)
	}
	printTree(c.App.Writer, tl.Root, c.String("locale"), 0)
	return nil
}

// printTree writes one line per node, children indented under parents.
func printTree(w io.Writer, n *testlist.Node, locale string, depth int) {
	if n.IsRoot() {
		fmt.Fprintf(w, "%s%s%s\n", color(colorBold), n.Label.String(locale), color(colorReset))
	} else {
		var tags []string
		switch {
		case n.IsBarrier():
			tags = append(tags, "barrier")
		case n.PytestName != "":
			tags = append(tags, n.PytestName)
		}
		if n.Parallel {
			tags = append(tags, "parallel")
		}
		if n.Teardown {
			tags = append(tags, "teardown")
		}
		if n.RunIf != "" {
			tags = append(tags, "run_if: "+n.RunIf)
		}
		line := fmt.Sprintf("%s%s %s(%s)%s", strings.Repeat("  ", depth), n.Label.String(locale),
			color(colorGray), n.Path, color(colorReset))
		if len(tags) > 0 {
			line += " [" + strings.Join(tags, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
	for _, child := range n.Children {
		printTree(w, child, locale, depth+1)
	}
}

func runEval(c *cli.Context) error {
	src := strings.Join(c.Args().Slice(), " ")
	if src == "" {
		return fmt.Errorf("an expression is required")
	}
	if stripped, ok := expr.StripEval(src); ok {
		src = stripped
	}

	st, err := openStation(c)
	if err != nil {
		return err
	}
	var tl *testlist.TestList
	if id := c.String("list"); id != "" {
		tl, err = st.manager.Get(id)
	} else {
		tl, err = st.manager.Active()
	}
	if err != nil {
		return err
	}

	env := tl.Env(st.cfg.DeviceData)
	v, err := expr.Eval(src, env.ArgsNamespace(tl.Root))
	if err != nil {
		return err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("result is not JSON: %w", err)
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

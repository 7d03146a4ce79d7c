// Package pytest runs leaf tests as pytest subprocesses.
//
// The command line comes from a template split like a shell command. The
// placeholders {pytest}, {args}, {result} and {path} are replaced with the
// pytest name, the JSON arguments file, the result file the test may write
// and the test path. A test passes when it exits 0, unless it wrote a result
// file saying otherwise.
package pytest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/shlex"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
)

// Placeholders recognized in the command template.
const (
	PlaceholderPytest = "{pytest}"
	PlaceholderArgs   = "{args}"
	PlaceholderResult = "{result}"
	PlaceholderPath   = "{path}"
)

// Environment variables set for every test process.
const (
	EnvTestPath     = "GOOFY_TEST_PATH"
	EnvInvocationID = "GOOFY_INVOCATION"
	EnvRunID        = "GOOFY_RUN_ID"
	EnvIteration    = "GOOFY_ITERATION"
)

// waitDelay bounds how long output is drained after the process is killed.
const waitDelay = 2 * time.Second

// maxErrorLen bounds the stderr excerpt kept as the failure message.
const maxErrorLen = 1024

// Config configures the invoker.
type Config struct {
	Command string
	// Timeout bounds one invocation. 0 means no limit.
	Timeout time.Duration
	WorkDir string
	// ArtifactDir receives invocations/<id> for every invocation.
	ArtifactDir string
}

// Invoker runs pytests as subprocesses.
type Invoker struct {
	argv []string
	cfg  Config
}

// New validates the command template.
func New(cfg Config) (*Invoker, error) {
	argv, err := shlex.Split(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parsing pytest command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("pytest command is empty")
	}
	if !strings.Contains(cfg.Command, PlaceholderPytest) {
		return nil, fmt.Errorf("pytest command %q has no %s placeholder", cfg.Command, PlaceholderPytest)
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = os.TempDir()
	}
	return &Invoker{argv: argv, cfg: cfg}, nil
}

// resultFile is what a test may write to {result}.
type resultFile struct {
	Status   string `json:"status"`
	ErrorMsg string `json:"error_msg"`
}

// Invoke runs one test and waits for it.
func (p *Invoker) Invoke(ctx context.Context, inv *core.Invocation) (*core.InvocationResult, error) {
	dir := filepath.Join(p.cfg.ArtifactDir, "invocations", inv.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating invocation dir: %w", err)
	}

	argsPath := filepath.Join(dir, "args.json")
	argsData, err := json.MarshalIndent(inv.Args, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding args of %s: %w", inv.Path, err)
	}
	if err := os.WriteFile(argsPath, argsData, 0o644); err != nil {
		return nil, fmt.Errorf("writing args file: %w", err)
	}
	resultPath := filepath.Join(dir, "result.json")

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	argv := p.expand(inv, argsPath, resultPath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //#nosec G204 -- command template comes from station config
	cmd.Dir = p.cfg.WorkDir
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(),
		EnvTestPath+"="+inv.Path,
		EnvInvocationID+"="+inv.ID,
		EnvRunID+"="+inv.RunID,
		fmt.Sprintf("%s=%d", EnvIteration, inv.Iteration),
	)

	var stdout, stderr bytes.Buffer
	logw := logger.GetWriter()
	cmd.Stdout = io.MultiWriter(&stdout, logw)
	cmd.Stderr = io.MultiWriter(&stderr, logw)

	logger.Info("Starting %s (%s): %s", inv.Path, inv.ID, strings.Join(argv, " "))
	start := time.Now()
	runErr := cmd.Run()

	res := &core.InvocationResult{
		Status:   core.StatusPassed,
		Duration: time.Since(start),
		Attachments: []core.Attachment{
			core.NewArgsAttachment(argsPath, argsData),
			saveLog(dir, core.AttachmentStdout, stdout.Bytes()),
			saveLog(dir, core.AttachmentStderr, stderr.Bytes()),
		},
	}

	switch {
	case ctx.Err() != nil:
		res.Status = core.StatusFailed
		res.ErrorMsg = ctx.Err().Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.ErrorMsg = fmt.Sprintf("timed out after %s", p.cfg.Timeout)
		}
	case runErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("starting %s: %w", inv.PytestName, runErr)
		}
		res.Status = core.StatusFailed
		res.ErrorMsg = failureMessage(exitErr, stderr.Bytes())
	}

	if rf, ok := readResult(resultPath); ok {
		status, err := core.ParseStatus(rf.Status)
		if err == nil && status.IsTerminal() && ctx.Err() == nil {
			res.Status = status
			res.ErrorMsg = rf.ErrorMsg
		}
	}
	return res, nil
}

// saveLog writes a captured stream next to the args file. The attachment
// keeps only its body when the file cannot be written.
func saveLog(dir, name string, data []byte) core.Attachment {
	path := filepath.Join(dir, name+".log")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn("Cannot save %s of %s: %v", name, filepath.Base(dir), err)
		path = ""
	}
	return core.NewLogAttachment(name, path, data)
}

func (p *Invoker) expand(inv *core.Invocation, argsPath, resultPath string) []string {
	r := strings.NewReplacer(
		PlaceholderPytest, inv.PytestName,
		PlaceholderArgs, argsPath,
		PlaceholderResult, resultPath,
		PlaceholderPath, inv.Path,
	)
	out := make([]string, len(p.argv))
	for i, a := range p.argv {
		out[i] = r.Replace(a)
	}
	return out
}

func readResult(path string) (resultFile, bool) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is inside the invocation dir
	if err != nil {
		return resultFile{}, false
	}
	var rf resultFile
	if err := json.Unmarshal(data, &rf); err != nil {
		logger.Warn("Ignoring malformed result file %s: %v", path, err)
		return resultFile{}, false
	}
	return rf, true
}

// failureMessage keeps the last lines of stderr, or the exit status.
func failureMessage(exitErr *exec.ExitError, stderr []byte) string {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return exitErr.Error()
	}
	if len(msg) > maxErrorLen {
		cut := len(msg) - maxErrorLen
		for cut < len(msg) && !utf8.RuneStart(msg[cut]) {
			cut++
		}
		msg = msg[cut:]
	}
	return msg
}

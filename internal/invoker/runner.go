// Package invoker runs the external generation program as a child process.
//
// The worker is opaque: it receives the staged input path as its only
// positional argument and reports success solely through its exit code.
// A non-zero exit is a normal Result, not an error; errors are reserved for
// failing to run the program at all.
package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/JakeFAU/docgen-gateway/internal/apperrors"
)

var (
	// ErrLaunch reports that the worker process could not be started.
	ErrLaunch = errors.New("worker launch failed")
	// ErrTimeout reports that the worker exceeded its deadline and was killed.
	ErrTimeout = errors.New("worker timed out")
)

// waitDelay bounds how long Wait keeps reading pipes held open by
// grandchildren after the worker itself was killed.
const waitDelay = 5 * time.Second

// Config describes how to launch the worker.
type Config struct {
	Command string
	Args    []string      // placed before the input path
	Dir     string        // working directory of the child
	Env     []string      // KEY=VALUE overrides on top of the parent environment
	Timeout time.Duration // zero disables the deadline
}

// Result is the outcome of a worker process that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the worker exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner launches the configured worker.
type Runner struct {
	cfg     Config
	environ func() []string
}

// New validates cfg and returns a Runner.
func New(cfg Config) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("worker timeout must be >= 0")
	}
	for _, kv := range cfg.Env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("worker env entry %q must be KEY=VALUE", kv)
		}
	}
	return &Runner{cfg: cfg, environ: os.Environ}, nil
}

// Run executes the worker against inputPath and blocks until it exits.
// Both output streams are captured in full and decoded as UTF-8, with
// malformed sequences replaced rather than rejected.
func (r *Runner) Run(ctx context.Context, inputPath string) (Result, error) {
	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := append(slices.Clone(r.cfg.Args), inputPath)
	// #nosec G204 -- the command comes from operator configuration.
	cmd := exec.CommandContext(runCtx, r.cfg.Command, args...)
	cmd.Dir = r.cfg.Dir
	cmd.Env = MergeEnv(r.environ(), r.cfg.Env)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   Decode(stdout.Bytes()),
		Stderr:   Decode(stderr.Bytes()),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	if runCtx.Err() != nil {
		res.ExitCode = -1
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return res, apperrors.Internal("invoker.run", fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout))
		}
		return res, apperrors.Internal("invoker.run", fmt.Errorf("worker canceled: %w", ctx.Err()))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when the process died from a signal; still an application failure.
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, apperrors.Internal("invoker.launch", fmt.Errorf("%w: %w", ErrLaunch, err))
}

// MergeEnv returns base with every KEY=VALUE in overrides applied. An
// override replaces any existing entry for the same key; everything else is
// inherited unchanged and in order.
func MergeEnv(base, overrides []string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	out = append(out, base...)
	for _, kv := range overrides {
		key, _, _ := strings.Cut(kv, "=")
		out = slices.DeleteFunc(out, func(existing string) bool {
			k, _, _ := strings.Cut(existing, "=")
			return k == key
		})
		out = append(out, kv)
	}
	return out
}

// Decode turns raw worker output into valid UTF-8. Well-formed text,
// including a leading byte order mark, passes through unchanged and
// ill-formed sequences become U+FFFD.
func Decode(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	decoded, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(decoded)
}

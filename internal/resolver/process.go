package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WorkerCommand is the hidden subcommand that runs ServeWorker.
const WorkerCommand = "resolve-worker"

const (
	defaultWaitDelay = 2 * time.Second
	maxStderrSnippet = 512
)

// ProcessWorker runs each resolution in a fresh child process placed in its
// own process group. When ctx ends the whole group is killed, which takes any
// browser the child spawned down with it.
type ProcessWorker struct {
	path      string
	args      []string
	env       []string
	waitDelay time.Duration
	logger    *zap.Logger
}

// NewProcessWorker builds a worker that executes path with args. An empty
// path re-executes the running binary with the WorkerCommand subcommand.
func NewProcessWorker(path string, args, env []string, logger *zap.Logger) (*ProcessWorker, error) {
	if path == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = self
		if len(args) == 0 {
			args = []string{WorkerCommand}
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessWorker{
		path:      path,
		args:      append([]string(nil), args...),
		env:       append([]string(nil), env...),
		waitDelay: defaultWaitDelay,
		logger:    logger,
	}, nil
}

// Run starts the child, writes req to its stdin, and decodes the single
// response from its stdout.
func (w *ProcessWorker) Run(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode resolution request: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.path, w.args...)
	cmd.Env = append(os.Environ(), w.env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = w.waitDelay
	isolate(cmd)

	start := time.Now()
	runErr := cmd.Run()
	reapGroup(cmd)
	w.logger.Debug("resolution worker exited",
		zap.String("url", req.URL),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(runErr),
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{}, fmt.Errorf("resolution worker: %w", ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Response{}, fmt.Errorf("resolution worker exited with code %d: %s",
				exitErr.ExitCode(), snippet(stderr.String()))
		}
		return Response{}, fmt.Errorf("run resolution worker: %w", runErr)
	}
	return decodeResponse(stdout.Bytes())
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrSnippet {
		return s[len(s)-maxStderrSnippet:]
	}
	return s
}

// Check reports whether the worker executable is present and runnable.
func (w *ProcessWorker) Check() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("resolution worker: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("resolution worker %s is not executable", w.path)
	}
	return nil
}

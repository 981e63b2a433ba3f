package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ExecRunner runs commands on the local host. Standard error is not part of
// the returned output; on failure it is logged at debug level so parsers only
// ever see stdout.
type ExecRunner struct {
	log *zap.Logger
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner returns a runner that logs command failures to logger.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{log: logger}
}

// Run executes name with args and returns its stdout, trailing newline
// stripped. No timeout is applied beyond what ctx carries.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	text := strings.TrimRight(string(out), "\n")
	if err != nil {
		r.logFailure(name, args, err)
		return text, fmt.Errorf("run %s: %w", name, err)
	}
	return text, nil
}

// Shell executes script through /bin/sh -c and returns its stdout, trailing
// newline stripped.
func (r *ExecRunner) Shell(ctx context.Context, script string) (string, error) {
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", script).Output()
	text := strings.TrimRight(string(out), "\n")
	if err != nil {
		r.logFailure("/bin/sh", []string{"-c", script}, err)
		return text, fmt.Errorf("run shell script: %w", err)
	}
	return text, nil
}

func (r *ExecRunner) logFailure(name string, args []string, err error) {
	fields := []zap.Field{
		zap.String("command", name),
		zap.Strings("args", args),
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		fields = append(fields,
			zap.Int("exit_code", exit.ExitCode()),
			zap.ByteString("stderr", exit.Stderr),
		)
	} else {
		fields = append(fields, zap.Error(err))
	}
	r.log.Debug("command failed", fields...)
}

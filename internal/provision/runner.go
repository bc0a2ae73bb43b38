package provision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Command is one external tool invocation.
type Command struct {
	Dir  string
	Env  []string
	Name string
	Args []string
	// Stream copies the tool's output to the executor's writers as it runs.
	Stream bool
}

func (c Command) Line() []string {
	return append([]string{c.Name}, c.Args...)
}

// CommandRunner executes package manager commands.
type CommandRunner interface {
	Run(ctx context.Context, command Command) (string, error)
}

type commandExecutor struct {
	stdout io.Writer
	stderr io.Writer
}

// NewCommandRunner shells out with os/exec. Streamed output goes to stdout and stderr; nil writers discard it.
func NewCommandRunner(stdout io.Writer, stderr io.Writer) CommandRunner {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return commandExecutor{stdout: stdout, stderr: stderr}
}

func (executor commandExecutor) Run(ctx context.Context, command Command) (string, error) {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	if command.Env != nil {
		cmd.Env = command.Env
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	if command.Stream {
		cmd.Stdout = io.MultiWriter(&stdout, executor.stdout)
		cmd.Stderr = io.MultiWriter(&stderr, executor.stderr)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}
	if err := cmd.Run(); err != nil {
		line := strings.Join(command.Args, " ")
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return stdout.String(), fmt.Errorf("run %s %s: %w: %s", command.Name, line, err, detail)
		}
		return stdout.String(), fmt.Errorf("run %s %s: %w", command.Name, line, err)
	}
	return stdout.String(), nil
}

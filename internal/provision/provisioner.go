// Package provision builds the conda environment the agent runs in: it deactivates
// the current environment, creates a pinned-interpreter environment at a local path,
// activates it and installs the configured packages one by one.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/directorium/internal/fsops"
)

// Policy decides what happens after a failed step.
type Policy string

const (
	// FailFast halts on the first failure and reports the remaining steps as skipped.
	FailFast Policy = "fail-fast"
	// BestEffort keeps going and reports every failure.
	BestEffort Policy = "best-effort"
)

func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", FailFast:
		return FailFast, nil
	case BestEffort:
		return BestEffort, nil
	default:
		return "", fmt.Errorf("%w: %q (use %s or %s)", ErrUnknownPolicy, value, FailFast, BestEffort)
	}
}

// ExistingGuard decides what the create step does when the environment is already there.
type ExistingGuard string

const (
	ExistingReuse    ExistingGuard = "reuse"
	ExistingRecreate ExistingGuard = "recreate"
	ExistingFail     ExistingGuard = "fail"
)

func ParseExistingGuard(value string) (ExistingGuard, error) {
	switch ExistingGuard(strings.ToLower(strings.TrimSpace(value))) {
	case "", ExistingReuse:
		return ExistingReuse, nil
	case ExistingRecreate:
		return ExistingRecreate, nil
	case ExistingFail:
		return ExistingFail, nil
	default:
		return "", fmt.Errorf("%w: %q (use %s, %s or %s)", ErrUnknownExistingGuard, value, ExistingReuse, ExistingRecreate, ExistingFail)
	}
}

const (
	defaultManager      = "conda"
	condaMetaDirectory  = "conda-meta"
	pythonPackageFormat = "python=%s"
)

type Options struct {
	// Manager is the package manager binary, "conda" when empty.
	Manager string
	// WorkingDirectory anchors relative environment paths; the process working directory when empty.
	WorkingDirectory string
	// Environ is the starting child environment; os.Environ() when nil.
	Environ  []string
	Policy   Policy
	Existing ExistingGuard
	DryRun   bool
}

type Provisioner struct {
	runner  CommandRunner
	fs      fsops.Ops
	logger  *zap.Logger
	options Options

	env    environ
	active string
}

func New(runner CommandRunner, fs fsops.Ops, logger *zap.Logger, options Options) (*Provisioner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(options.Manager) == "" {
		options.Manager = defaultManager
	}
	if options.Policy == "" {
		options.Policy = FailFast
	}
	if options.Existing == "" {
		options.Existing = ExistingReuse
	}
	if strings.TrimSpace(options.WorkingDirectory) == "" {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		options.WorkingDirectory = workingDirectory
	}
	startingEnv := options.Environ
	if startingEnv == nil {
		startingEnv = os.Environ()
	}
	return &Provisioner{
		runner:  runner,
		fs:      fs,
		logger:  logger,
		options: options,
		env:     environ(startingEnv).clone(),
	}, nil
}

// Run executes the plan in order. Under FailFast the first failure halts the run and
// the remaining steps are reported as skipped. The returned error joins every step failure.
func (p *Provisioner) Run(ctx context.Context, plan Plan) (Report, error) {
	report := Report{Policy: p.options.Policy, DryRun: p.options.DryRun, StartedAt: time.Now().UTC()}

	if p.options.Existing == ExistingFail {
		if environmentPath := plan.EnvironmentPath(); environmentPath != "" && p.EnvironmentExists(environmentPath) {
			report.FinishedAt = time.Now().UTC()
			return report, fmt.Errorf("%w: %s", ErrEnvironmentExists, p.resolve(environmentPath))
		}
	}

	halted := false
	for _, step := range plan.Steps {
		if halted {
			report.Results = append(report.Results, StepResult{Step: step, Status: StatusSkipped, Note: "not run after earlier failure"})
			continue
		}
		result := p.execute(ctx, step)
		report.Results = append(report.Results, result)
		if result.Status != StatusFailed {
			continue
		}
		p.logger.Error("provisioning step failed", zap.Stringer("step", step), zap.Error(result.Err))
		if p.options.Policy == FailFast || ctx.Err() != nil {
			halted = true
		}
	}
	report.FinishedAt = time.Now().UTC()
	return report, report.Err()
}

func (p *Provisioner) execute(ctx context.Context, step Step) StepResult {
	switch step.Kind {
	case StepDeactivate:
		result, _ := p.Deactivate(ctx)
		return result
	case StepCreate:
		result, _ := p.CreateEnvironment(ctx, step.Path, step.InterpreterVersion)
		return result
	case StepActivate:
		result, _ := p.ActivateEnvironment(ctx, step.Path)
		return result
	case StepInstall:
		result, _ := p.InstallPackage(ctx, step.Package, step.Channel)
		return result
	default:
		return p.fail(StepResult{Step: step}, fmt.Errorf("unknown step kind %q", step.Kind))
	}
}

// Deactivate leaves whatever environment is active for every later child process.
func (p *Provisioner) Deactivate(ctx context.Context) (StepResult, error) {
	result := StepResult{Step: Step{Kind: StepDeactivate}}
	if err := ctx.Err(); err != nil {
		return p.failWithError(result, err)
	}
	started := time.Now()
	deactivatedEnv, prefixes := p.env.deactivated()
	p.env = deactivatedEnv
	p.active = ""
	result.Duration = time.Since(started)
	if len(prefixes) == 0 {
		result.Note = "no active environment"
	} else {
		result.Note = "left " + strings.Join(prefixes, ", ")
	}
	result.Status = p.doneStatus()
	p.logger.Info("deactivated environment", zap.Strings("prefixes", prefixes))
	return result, nil
}

// CreateEnvironment creates an environment rooted at path with the given interpreter version.
// The parent directory is created first.
func (p *Provisioner) CreateEnvironment(ctx context.Context, path string, interpreterVersion string) (StepResult, error) {
	step := Step{Kind: StepCreate, Path: path, InterpreterVersion: interpreterVersion}
	result := StepResult{Step: step}
	prefix := p.resolve(path)
	command := p.command(true, "create", "--prefix", prefix, fmt.Sprintf(pythonPackageFormat, interpreterVersion), "--yes")
	result.Command = command.Line()

	if p.EnvironmentExists(path) {
		switch p.options.Existing {
		case ExistingReuse:
			result.Status = StatusSkipped
			result.Note = "environment already exists at " + prefix
			p.logger.Info("reusing existing environment", zap.String("prefix", prefix))
			return result, nil
		case ExistingFail:
			return p.failWithError(result, fmt.Errorf("%w: %s", ErrEnvironmentExists, prefix))
		}
	}

	if p.options.DryRun {
		result.Status = StatusPlanned
		return result, nil
	}
	if err := p.fs.EnsureParent(prefix); err != nil {
		return p.failWithError(result, fmt.Errorf("create parent directory of %s: %w", prefix, err))
	}
	return p.invoke(ctx, result, command)
}

// ActivateEnvironment makes path the active environment for the following steps.
func (p *Provisioner) ActivateEnvironment(ctx context.Context, path string) (StepResult, error) {
	result := StepResult{Step: Step{Kind: StepActivate, Path: path}}
	if err := ctx.Err(); err != nil {
		return p.failWithError(result, err)
	}
	started := time.Now()
	prefix := p.resolve(path)
	p.env = p.env.activated(prefix)
	p.active = prefix
	result.Duration = time.Since(started)
	result.Note = "active prefix " + prefix
	result.Status = p.doneStatus()
	p.logger.Info("activated environment", zap.String("prefix", prefix))
	return result, nil
}

// InstallPackage installs one package from one channel into the active environment.
func (p *Provisioner) InstallPackage(ctx context.Context, name string, channel string) (StepResult, error) {
	result := StepResult{Step: Step{Kind: StepInstall, Path: p.active, Package: name, Channel: channel}}
	if p.active == "" {
		return p.failWithError(result, ErrNoActiveEnvironment)
	}
	command := p.command(true, "install", "--prefix", p.active, "--channel", channel, "--yes", name)
	result.Command = command.Line()
	if p.options.DryRun {
		result.Status = StatusPlanned
		return result, nil
	}
	return p.invoke(ctx, result, command)
}

// ActivePrefix returns the absolute path of the active environment, or "".
func (p *Provisioner) ActivePrefix() string { return p.active }

// EnvironmentExists reports whether path already holds a conda environment.
func (p *Provisioner) EnvironmentExists(path string) bool {
	return p.fs.IsDir(filepath.Join(p.resolve(path), condaMetaDirectory))
}

func (p *Provisioner) invoke(ctx context.Context, result StepResult, command Command) (StepResult, error) {
	p.logger.Info("running provisioning step", zap.Stringer("step", result.Step), zap.Strings("command", result.Command))
	started := time.Now()
	output, err := p.runner.Run(ctx, command)
	result.Duration = time.Since(started)
	result.Output = output
	if err != nil {
		return p.failWithError(result, err)
	}
	result.Status = StatusSucceeded
	p.logger.Debug("provisioning step finished", zap.Stringer("step", result.Step), zap.Duration("duration", result.Duration))
	return result, nil
}

func (p *Provisioner) command(stream bool, args ...string) Command {
	return Command{
		Dir:    p.options.WorkingDirectory,
		Env:    p.env.clone(),
		Name:   p.options.Manager,
		Args:   args,
		Stream: stream,
	}
}

func (p *Provisioner) resolve(path string) string {
	trimmed := strings.TrimSpace(path)
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Join(p.options.WorkingDirectory, trimmed)
}

func (p *Provisioner) doneStatus() StepStatus {
	if p.options.DryRun {
		return StatusPlanned
	}
	return StatusSucceeded
}

func (p *Provisioner) fail(result StepResult, err error) StepResult {
	failed, _ := p.failWithError(result, err)
	return failed
}

func (p *Provisioner) failWithError(result StepResult, err error) (StepResult, error) {
	stepErr := &StepError{Step: result.Step, Err: err}
	result.Status = StatusFailed
	result.Err = stepErr
	return result, stepErr
}

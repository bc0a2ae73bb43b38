package provision

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStepFailed marks an external tool invocation that did not succeed.
	ErrStepFailed           = errors.New("provisioning step failed")
	ErrNoActiveEnvironment  = errors.New("no active environment; activate one before installing")
	ErrEnvironmentExists    = errors.New("environment already exists")
	ErrUnknownPolicy        = errors.New("unknown failure policy")
	ErrUnknownExistingGuard = errors.New("unknown existing-environment guard")
)

// StepError ties a failure to the step that produced it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Unwrap exposes both ErrStepFailed and the underlying cause to errors.Is.
func (e *StepError) Unwrap() []error {
	return []error{ErrStepFailed, e.Err}
}

type StepStatus string

const (
	StatusSucceeded StepStatus = "succeeded"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusPlanned   StepStatus = "planned"
)

type StepResult struct {
	Step     Step
	Status   StepStatus
	Command  []string
	Output   string
	Note     string
	Err      error
	Duration time.Duration
}

type Report struct {
	Policy     Policy
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []StepResult
}

// Count returns how many results have the given status.
func (r Report) Count(status StepStatus) int {
	count := 0
	for _, result := range r.Results {
		if result.Status == status {
			count++
		}
	}
	return count
}

// Err joins the errors of every failed step, or returns nil.
func (r Report) Err() error {
	var failures []error
	for _, result := range r.Results {
		if result.Status == StatusFailed && result.Err != nil {
			failures = append(failures, result.Err)
		}
	}
	return errors.Join(failures...)
}

// Summary renders a one-line account of the run.
func (r Report) Summary() string {
	mode := "applied"
	if r.DryRun {
		mode = "dry-run"
	}
	return fmt.Sprintf("provision: %d succeeded, %d failed, %d skipped, %d planned (%s, %s)",
		r.Count(StatusSucceeded), r.Count(StatusFailed), r.Count(StatusSkipped), r.Count(StatusPlanned), r.Policy, mode)
}

// Render lists each step with its status, command line and note.
func (r Report) Render() string {
	var builder strings.Builder
	for index, result := range r.Results {
		builder.WriteString(fmt.Sprintf("%d. [%s] %s\n", index+1, result.Status, result.Step))
		if len(result.Command) > 0 {
			builder.WriteString("   $ " + strings.Join(result.Command, " ") + "\n")
		}
		if result.Note != "" {
			builder.WriteString("   " + result.Note + "\n")
		}
		if result.Err != nil {
			builder.WriteString("   error: " + result.Err.Error() + "\n")
		}
	}
	builder.WriteString(r.Summary())
	return builder.String()
}

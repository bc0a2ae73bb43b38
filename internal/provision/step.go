package provision

import (
	"fmt"
	"strings"

	"github.com/temirov/directorium/internal/config"
)

type StepKind string

const (
	StepDeactivate StepKind = "deactivate"
	StepCreate     StepKind = "create"
	StepActivate   StepKind = "activate"
	StepInstall    StepKind = "install"
)

// Step is one provisioning step. Only the fields relevant to Kind are set.
type Step struct {
	Kind               StepKind
	Path               string
	InterpreterVersion string
	Package            string
	Channel            string
}

func (s Step) String() string {
	switch s.Kind {
	case StepDeactivate:
		return "deactivate-current-environment"
	case StepCreate:
		return fmt.Sprintf("create-environment(path=%q, interpreter_version=%q)", s.Path, s.InterpreterVersion)
	case StepActivate:
		return fmt.Sprintf("activate-environment(path=%q)", s.Path)
	case StepInstall:
		return fmt.Sprintf("install(%s, %s)", s.Package, s.Channel)
	default:
		return string(s.Kind)
	}
}

// Plan is the ordered list of steps the provisioner executes.
type Plan struct {
	Steps []Step
}

// NewPlan builds the fixed sequence: deactivate, create, activate, then one install per package in configured order.
func NewPlan(environment config.Environment) Plan {
	path := strings.TrimSpace(environment.Path)
	steps := []Step{
		{Kind: StepDeactivate},
		{Kind: StepCreate, Path: path, InterpreterVersion: strings.TrimSpace(environment.PythonVersion)},
		{Kind: StepActivate, Path: path},
	}
	for _, pkg := range environment.Packages {
		steps = append(steps, Step{
			Kind:    StepInstall,
			Path:    path,
			Package: strings.TrimSpace(pkg.Name),
			Channel: strings.TrimSpace(pkg.Channel),
		})
	}
	return Plan{Steps: steps}
}

// EnvironmentPath returns the path of the first create step, or "" when the plan creates nothing.
func (p Plan) EnvironmentPath() string {
	for _, step := range p.Steps {
		if step.Kind == StepCreate {
			return step.Path
		}
	}
	return ""
}

package provision_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/temirov/directorium/internal/config"
	"github.com/temirov/directorium/internal/fsops"
	"github.com/temirov/directorium/internal/provision"
)

const testWorkingDirectory = "/work"

type recordingRunner struct {
	commands []provision.Command
	failOn   map[string]error
	outputs  map[string]string
}

func (runner *recordingRunner) Run(_ context.Context, command provision.Command) (string, error) {
	runner.commands = append(runner.commands, command)
	line := strings.Join(command.Line(), " ")
	for fragment, err := range runner.failOn {
		if strings.Contains(line, fragment) {
			return "", err
		}
	}
	for fragment, output := range runner.outputs {
		if strings.Contains(line, fragment) {
			return output, nil
		}
	}
	return "", nil
}

func (runner *recordingRunner) lines() []string {
	out := make([]string, 0, len(runner.commands))
	for _, command := range runner.commands {
		out = append(out, strings.Join(command.Line(), " "))
	}
	return out
}

func testEnvironment() config.Environment {
	return config.Environment{
		Manager:       "conda",
		Path:          "./envs/directorium",
		PythonVersion: "3.12",
		Packages: []config.Package{
			{Name: "python-dotenv", Channel: "anaconda"},
			{Name: "openai", Channel: "conda-forge"},
			{Name: "langchain", Channel: "conda-forge"},
			{Name: "langchain-openai", Channel: "conda-forge"},
		},
	}
}

func newTestProvisioner(t *testing.T, runner provision.CommandRunner, fs fsops.Ops, options provision.Options) *provision.Provisioner {
	t.Helper()
	options.WorkingDirectory = testWorkingDirectory
	if options.Environ == nil {
		options.Environ = []string{
			"PATH=/opt/conda/envs/base/bin:/usr/bin",
			"CONDA_PREFIX=/opt/conda/envs/base",
			"CONDA_DEFAULT_ENV=base",
			"CONDA_SHLVL=2",
			"CONDA_PREFIX_1=/opt/conda",
			"HOME=/home/tester",
		}
	}
	provisioner, err := provision.New(runner, fs, nil, options)
	if err != nil {
		t.Fatalf("new provisioner: %v", err)
	}
	return provisioner
}

func TestNewPlanKeepsFixedOrder(t *testing.T) {
	plan := provision.NewPlan(testEnvironment())

	var rendered []string
	for _, step := range plan.Steps {
		rendered = append(rendered, step.String())
	}
	expected := []string{
		"deactivate-current-environment",
		`create-environment(path="./envs/directorium", interpreter_version="3.12")`,
		`activate-environment(path="./envs/directorium")`,
		"install(python-dotenv, anaconda)",
		"install(openai, conda-forge)",
		"install(langchain, conda-forge)",
		"install(langchain-openai, conda-forge)",
	}
	if diff := cmp.Diff(expected, rendered); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	if plan.EnvironmentPath() != "./envs/directorium" {
		t.Fatalf("unexpected environment path %q", plan.EnvironmentPath())
	}
}

func TestRunOnCleanHostExecutesEveryStep(t *testing.T) {
	runner := &recordingRunner{}
	fs := fsops.NewMem()
	provisioner := newTestProvisioner(t, runner, fs, provision.Options{})

	report, err := provisioner.Run(context.Background(), provision.NewPlan(testEnvironment()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	prefix := filepath.Join(testWorkingDirectory, "envs", "directorium")
	expected := []string{
		"conda create --prefix " + prefix + " python=3.12 --yes",
		"conda install --prefix " + prefix + " --channel anaconda --yes python-dotenv",
		"conda install --prefix " + prefix + " --channel conda-forge --yes openai",
		"conda install --prefix " + prefix + " --channel conda-forge --yes langchain",
		"conda install --prefix " + prefix + " --channel conda-forge --yes langchain-openai",
	}
	if diff := cmp.Diff(expected, runner.lines()); diff != "" {
		t.Fatalf("command mismatch (-want +got):\n%s", diff)
	}
	if !fs.IsDir(filepath.Join(testWorkingDirectory, "envs")) {
		t.Fatalf("expected parent directory to be created before create step")
	}
	if report.Count(provision.StatusSucceeded) != 7 {
		t.Fatalf("expected 7 succeeded steps, got %s", report.Summary())
	}
	if provisioner.ActivePrefix() != prefix {
		t.Fatalf("unexpected active prefix %q", provisioner.ActivePrefix())
	}
}

func TestRunChildEnvironmentFollowsActivation(t *testing.T) {
	runner := &recordingRunner{}
	provisioner := newTestProvisioner(t, runner, fsops.NewMem(), provision.Options{})

	if _, err := provisioner.Run(context.Background(), provision.NewPlan(testEnvironment())); err != nil {
		t.Fatalf("run: %v", err)
	}

	prefix := filepath.Join(testWorkingDirectory, "envs", "directorium")
	createEnv := lookup(runner.commands[0].Env)
	if _, ok := createEnv["CONDA_PREFIX"]; ok {
		t.Fatalf("create step should run deactivated, got CONDA_PREFIX=%s", createEnv["CONDA_PREFIX"])
	}
	if _, ok := createEnv["CONDA_PREFIX_1"]; ok {
		t.Fatalf("stacked prefix should be removed")
	}
	if createEnv["PATH"] != "/usr/bin" {
		t.Fatalf("expected base bin removed from PATH, got %q", createEnv["PATH"])
	}

	installEnv := lookup(runner.commands[1].Env)
	if installEnv["CONDA_PREFIX"] != prefix {
		t.Fatalf("install step should see active prefix, got %q", installEnv["CONDA_PREFIX"])
	}
	if !strings.HasPrefix(installEnv["PATH"], filepath.Join(prefix, "bin")) {
		t.Fatalf("expected environment bin first on PATH, got %q", installEnv["PATH"])
	}
	if installEnv["HOME"] != "/home/tester" {
		t.Fatalf("unrelated variables should survive, got HOME=%q", installEnv["HOME"])
	}
}

func TestRunFailurePolicies(t *testing.T) {
	installFailure := errors.New("PackagesNotFoundError")
	testCases := []struct {
		name           string
		policy         provision.Policy
		expectedStatus []provision.StepStatus
		expectedCalls  int
	}{
		{
			name:   "fail fast skips remaining steps",
			policy: provision.FailFast,
			expectedStatus: []provision.StepStatus{
				provision.StatusSucceeded, provision.StatusSucceeded, provision.StatusSucceeded,
				provision.StatusSucceeded, provision.StatusFailed, provision.StatusSkipped, provision.StatusSkipped,
			},
			expectedCalls: 3,
		},
		{
			name:   "best effort continues",
			policy: provision.BestEffort,
			expectedStatus: []provision.StepStatus{
				provision.StatusSucceeded, provision.StatusSucceeded, provision.StatusSucceeded,
				provision.StatusSucceeded, provision.StatusFailed, provision.StatusSucceeded, provision.StatusSucceeded,
			},
			expectedCalls: 5,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			runner := &recordingRunner{failOn: map[string]error{"--yes openai": installFailure}}
			provisioner := newTestProvisioner(t, runner, fsops.NewMem(), provision.Options{Policy: testCase.policy})

			report, err := provisioner.Run(context.Background(), provision.NewPlan(testEnvironment()))
			if !errors.Is(err, provision.ErrStepFailed) {
				t.Fatalf("expected ErrStepFailed, got %v", err)
			}
			if !errors.Is(err, installFailure) {
				t.Fatalf("expected underlying cause to be preserved, got %v", err)
			}
			var stepErr *provision.StepError
			if !errors.As(err, &stepErr) || stepErr.Step.Package != "openai" {
				t.Fatalf("expected StepError for openai, got %v", err)
			}

			var statuses []provision.StepStatus
			for _, result := range report.Results {
				statuses = append(statuses, result.Status)
			}
			if diff := cmp.Diff(testCase.expectedStatus, statuses); diff != "" {
				t.Fatalf("status mismatch (-want +got):\n%s", diff)
			}
			if len(runner.commands) != testCase.expectedCalls {
				t.Fatalf("expected %d external calls, got %d", testCase.expectedCalls, len(runner.commands))
			}
		})
	}
}

func TestRunExistingEnvironmentGuards(t *testing.T) {
	prefix := filepath.Join(testWorkingDirectory, "envs", "directorium")
	testCases := []struct {
		name          string
		guard         provision.ExistingGuard
		expectCreate  bool
		expectErr     error
		createStatus  provision.StepStatus
		expectedCalls int
	}{
		{name: "reuse skips create", guard: provision.ExistingReuse, createStatus: provision.StatusSkipped, expectedCalls: 4},
		{name: "recreate runs create", guard: provision.ExistingRecreate, expectCreate: true, createStatus: provision.StatusSucceeded, expectedCalls: 5},
		{name: "fail aborts before any call", guard: provision.ExistingFail, expectErr: provision.ErrEnvironmentExists},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fs := fsops.NewMem()
			if err := fs.EnsureDir(filepath.Join(prefix, "conda-meta")); err != nil {
				t.Fatalf("seed environment: %v", err)
			}
			runner := &recordingRunner{}
			provisioner := newTestProvisioner(t, runner, fs, provision.Options{Existing: testCase.guard})

			report, err := provisioner.Run(context.Background(), provision.NewPlan(testEnvironment()))
			if testCase.expectErr != nil {
				if !errors.Is(err, testCase.expectErr) {
					t.Fatalf("expected %v, got %v", testCase.expectErr, err)
				}
				if len(runner.commands) != 0 {
					t.Fatalf("expected no external calls, got %v", runner.lines())
				}
				return
			}
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if report.Results[1].Status != testCase.createStatus {
				t.Fatalf("expected create status %s, got %s", testCase.createStatus, report.Results[1].Status)
			}
			if len(runner.commands) != testCase.expectedCalls {
				t.Fatalf("expected %d calls, got %v", testCase.expectedCalls, runner.lines())
			}
			createdAgain := strings.Contains(runner.lines()[0], " create ")
			if createdAgain != testCase.expectCreate {
				t.Fatalf("create invoked=%v, want %v", createdAgain, testCase.expectCreate)
			}
		})
	}
}

func TestRunDryRunPlansWithoutCalling(t *testing.T) {
	runner := &recordingRunner{}
	fs := fsops.NewMem()
	provisioner := newTestProvisioner(t, runner, fs, provision.Options{DryRun: true})

	report, err := provisioner.Run(context.Background(), provision.NewPlan(testEnvironment()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(runner.commands) != 0 {
		t.Fatalf("dry run executed %v", runner.lines())
	}
	if report.Count(provision.StatusPlanned) != 7 {
		t.Fatalf("expected every step planned, got %s", report.Summary())
	}
	if fs.Exists(filepath.Join(testWorkingDirectory, "envs")) {
		t.Fatalf("dry run must not create directories")
	}
	if !strings.Contains(report.Render(), "$ conda install --prefix") {
		t.Fatalf("expected rendered command lines, got:\n%s", report.Render())
	}
}

func TestRunStopsOnCancelledContextEvenWhenBestEffort(t *testing.T) {
	runner := &recordingRunner{}
	provisioner := newTestProvisioner(t, runner, fsops.NewMem(), provision.Options{Policy: provision.BestEffort})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := provisioner.Run(ctx, provision.NewPlan(testEnvironment()))
	if !errors.Is(err, context.Canceled) || !errors.Is(err, provision.ErrStepFailed) {
		t.Fatalf("expected a cancelled step failure, got %v", err)
	}
	if len(runner.commands) != 0 {
		t.Fatalf("cancelled run executed %v", runner.lines())
	}
	if report.Count(provision.StatusFailed) != 1 || report.Count(provision.StatusSkipped) != 6 {
		t.Fatalf("expected one failure and the rest skipped, got %s", report.Summary())
	}
	if report.Results[0].Step.Kind != provision.StepDeactivate || report.Results[0].Status != provision.StatusFailed {
		t.Fatalf("expected the first step to fail, got %+v", report.Results[0])
	}
}

func TestInstallRequiresActiveEnvironment(t *testing.T) {
	provisioner := newTestProvisioner(t, &recordingRunner{}, fsops.NewMem(), provision.Options{})
	if _, err := provisioner.Deactivate(context.Background()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := provisioner.InstallPackage(context.Background(), "openai", "conda-forge")
	if !errors.Is(err, provision.ErrNoActiveEnvironment) {
		t.Fatalf("expected ErrNoActiveEnvironment, got %v", err)
	}
}

func TestParsePolicyAndGuard(t *testing.T) {
	if policy, err := provision.ParsePolicy(""); err != nil || policy != provision.FailFast {
		t.Fatalf("expected default fail-fast, got %s %v", policy, err)
	}
	if policy, err := provision.ParsePolicy("Best-Effort"); err != nil || policy != provision.BestEffort {
		t.Fatalf("expected best-effort, got %s %v", policy, err)
	}
	if _, err := provision.ParsePolicy("retry"); !errors.Is(err, provision.ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
	if guard, err := provision.ParseExistingGuard("recreate"); err != nil || guard != provision.ExistingRecreate {
		t.Fatalf("expected recreate, got %s %v", guard, err)
	}
	if _, err := provision.ParseExistingGuard("overwrite"); !errors.Is(err, provision.ErrUnknownExistingGuard) {
		t.Fatalf("expected ErrUnknownExistingGuard, got %v", err)
	}
}

func TestVerifyComparesInstalledPackages(t *testing.T) {
	listing := `[
  {"name": "python", "version": "3.12.4", "channel": "conda-forge"},
  {"name": "python-dotenv", "version": "1.0.1", "channel": "anaconda"},
  {"name": "openai", "version": "1.40.0", "channel": "conda-forge"},
  {"name": "langchain", "version": "0.2.11", "channel": "conda-forge"}
]`
	runner := &recordingRunner{outputs: map[string]string{" list ": listing}}
	provisioner := newTestProvisioner(t, runner, fsops.NewMem(), provision.Options{})

	verification, err := provisioner.Verify(context.Background(), testEnvironment())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.OK() {
		t.Fatalf("expected verification to fail with a missing package")
	}
	if diff := cmp.Diff([]string{"langchain-openai"}, verification.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
	if verification.PythonVersion != "3.12.4" {
		t.Fatalf("unexpected python version %q", verification.PythonVersion)
	}
	if !strings.Contains(runner.lines()[0], "--json") {
		t.Fatalf("expected json listing, got %v", runner.lines())
	}
}

func TestVerifyRejectsOtherInterpreterSeries(t *testing.T) {
	listing := `[{"name": "python", "version": "3.1.5"}, {"name": "python-dotenv", "version": "1"}, {"name": "openai", "version": "1"}, {"name": "langchain", "version": "1"}, {"name": "langchain-openai", "version": "1"}]`
	runner := &recordingRunner{outputs: map[string]string{" list ": listing}}
	provisioner := newTestProvisioner(t, runner, fsops.NewMem(), provision.Options{})

	verification, err := provisioner.Verify(context.Background(), testEnvironment())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.OK() {
		t.Fatalf("3.1.5 must not satisfy 3.12")
	}
}

func lookup(env []string) map[string]string {
	values := map[string]string{}
	for _, entry := range env {
		key, value, _ := strings.Cut(entry, "=")
		values[key] = value
	}
	return values
}

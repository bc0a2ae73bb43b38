package directorium

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/temirov/directorium/internal/fsops"
	"github.com/temirov/directorium/internal/provision"
)

const (
	testWorkspaceRoot  = "/directorium-workspace"
	testAPIKeyVariable = "DIRECTORIUM_TEST_API_KEY"
)

const sampleConfig = `
common:
  api:
    endpoint: http://127.0.0.1:1/v1
    api_key_env: DIRECTORIUM_TEST_API_KEY
  logging:
    level: error
  defaults:
    timeout_seconds: 5

models:
  - name: gpt-4o-mini
    provider: openai
    model_id: gpt-4o-mini
    default: true
    supports_temperature: true
    default_temperature: 0
    max_completion_tokens: 256

environment:
  manager: conda
  path: ./envs/directorium
  python_version: "3.12"
  packages:
    - name: python-dotenv
      channel: anaconda
    - name: openai
      channel: conda-forge
    - name: langchain
      channel: conda-forge
    - name: langchain-openai
      channel: conda-forge

workspace:
  allowed_roots:
    - /directorium-workspace

session:
  db_path: memory.db
  system_prompt: You organise files.
`

type fakeRunner struct {
	lines   []string
	failOn  map[string]error
	outputs map[string]string
}

func (runner *fakeRunner) Run(_ context.Context, command provision.Command) (string, error) {
	line := strings.Join(command.Line(), " ")
	runner.lines = append(runner.lines, line)
	padded := line + " "
	for fragment, err := range runner.failOn {
		if strings.Contains(padded, fragment) {
			return "", err
		}
	}
	for fragment, output := range runner.outputs {
		if strings.Contains(padded, fragment) {
			return output, nil
		}
	}
	return "", nil
}

type testHarness struct {
	runner     *fakeRunner
	filesystem fsops.Ops
	workDir    string
	configPath string
	env        map[string]string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	workDir := t.TempDir()
	configPath := filepath.Join(workDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &testHarness{
		runner:     &fakeRunner{},
		filesystem: fsops.NewMem(),
		workDir:    workDir,
		configPath: configPath,
		env:        map[string]string{"HOME": workDir},
	}
}

func (h *testHarness) dependencies() dependencies {
	return dependencies{
		newCommandRunner: func(io.Writer, io.Writer) provision.CommandRunner { return h.runner },
		filesystem:       h.filesystem,
		lookupEnv: func(name string) (string, bool) {
			value, ok := h.env[name]
			return value, ok
		},
		environ:          func() []string { return []string{"PATH=/usr/bin", "HOME=" + h.workDir} },
		workingDirectory: func() (string, error) { return h.workDir, nil },
	}
}

func (h *testHarness) execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	command := newRootCommand(h.dependencies())
	var out bytes.Buffer
	command.SetOut(&out)
	command.SetErr(&out)
	command.SetIn(strings.NewReader(stdin))
	command.SetArgs(append(args, "--config", h.configPath))
	err := command.ExecuteContext(context.Background())
	return out.String(), err
}

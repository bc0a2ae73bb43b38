package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/directorium/internal/config"
)

const (
	pythonPackageName           = "python"
	listOutputDecodeErrorFormat = "decode %s list output: %w"
)

// Verification is the observed state of a provisioned environment.
type Verification struct {
	Path            string
	WantPython      string
	PythonVersion   string
	Present         []string
	Missing         []string
	InstalledByName map[string]string
}

// OK reports whether every configured package is installed and the interpreter matches.
func (v Verification) OK() bool {
	return len(v.Missing) == 0 && pythonVersionMatches(v.PythonVersion, v.WantPython)
}

func (v Verification) String() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "environment %s\n", v.Path)
	pythonState := "ok"
	if !pythonVersionMatches(v.PythonVersion, v.WantPython) {
		pythonState = "mismatch"
	}
	fmt.Fprintf(&builder, "  python %s (want %s): %s\n", orNone(v.PythonVersion), v.WantPython, pythonState)
	for _, name := range v.Present {
		fmt.Fprintf(&builder, "  present %s %s\n", name, v.InstalledByName[name])
	}
	for _, name := range v.Missing {
		fmt.Fprintf(&builder, "  missing %s\n", name)
	}
	return strings.TrimRight(builder.String(), "\n")
}

type listedPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Channel string `json:"channel"`
}

// Verify lists the packages installed at the environment path and compares them to the configuration.
func (p *Provisioner) Verify(ctx context.Context, environment config.Environment) (Verification, error) {
	prefix := p.resolve(environment.Path)
	verification := Verification{
		Path:            prefix,
		WantPython:      strings.TrimSpace(environment.PythonVersion),
		InstalledByName: map[string]string{},
	}
	command := p.command(false, "list", "--prefix", prefix, "--json")
	output, err := p.runner.Run(ctx, command)
	if err != nil {
		return verification, fmt.Errorf("list packages in %s: %w", prefix, err)
	}
	var listed []listedPackage
	if err := json.Unmarshal([]byte(output), &listed); err != nil {
		return verification, fmt.Errorf(listOutputDecodeErrorFormat, p.options.Manager, err)
	}
	for _, pkg := range listed {
		verification.InstalledByName[strings.ToLower(pkg.Name)] = pkg.Version
	}
	verification.PythonVersion = verification.InstalledByName[pythonPackageName]
	for _, pkg := range environment.Packages {
		name := strings.ToLower(strings.TrimSpace(pkg.Name))
		if _, ok := verification.InstalledByName[name]; ok {
			verification.Present = append(verification.Present, name)
		} else {
			verification.Missing = append(verification.Missing, name)
		}
	}
	p.logger.Info("verified environment",
		zap.String("prefix", prefix),
		zap.String("python", verification.PythonVersion),
		zap.Strings("missing", verification.Missing))
	return verification, nil
}

// pythonVersionMatches compares by dotted prefix so 3.12 matches 3.12.4 but not 3.1.
func pythonVersionMatches(installed string, want string) bool {
	if installed == "" || want == "" {
		return false
	}
	return installed == want || strings.HasPrefix(installed, want+".")
}

func orNone(value string) string {
	if value == "" {
		return "none"
	}
	return value
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// EmbeddedRootConfigurationReference identifies the embedded fallback configuration source.
	EmbeddedRootConfigurationReference = "embedded default configuration"
	// ConfigurationPathEnvironmentVariable points at a configuration file when --config is not given.
	ConfigurationPathEnvironmentVariable        = "DIRECTORIUM_CONFIG"
	explicitConfigurationReadErrorFormat        = "read explicit configuration %s: %w"
	loaderInitializationWorkingDirectoryError   = "determine working directory: %w"
	loaderHomeEnvironmentVariableName           = "HOME"
	workingDirectoryConfigurationFileName       = "config.yaml"
	homeDirectoryConfigurationRelativeDirectory = ".directorium"
	homeDirectoryConfigurationFileName          = "config.yaml"
)

//go:embed default_root_configuration.yaml
var embeddedRootConfigurationBytes []byte

// RootConfigurationSource holds the raw configuration data and its origin.
type RootConfigurationSource struct {
	Reference string
	Content   []byte
}

// RootConfigurationLoader resolves the configuration file from the explicit path,
// the DIRECTORIUM_CONFIG variable, the working directory and the home directory, in that order.
type RootConfigurationLoader struct {
	workingDirectory string
	homeDirectory    string
	lookupEnv        func(string) (string, bool)
	fileReader       func(string) ([]byte, error)
}

func NewRootConfigurationLoader(workingDirectory string, homeDirectory string) RootConfigurationLoader {
	return RootConfigurationLoader{
		workingDirectory: workingDirectory,
		homeDirectory:    homeDirectory,
		lookupEnv:        os.LookupEnv,
		fileReader:       os.ReadFile,
	}
}

// NewDefaultRootConfigurationLoader builds a loader using the process working directory and HOME.
func NewDefaultRootConfigurationLoader() (RootConfigurationLoader, error) {
	workingDirectory, workingDirectoryError := os.Getwd()
	if workingDirectoryError != nil {
		return RootConfigurationLoader{}, fmt.Errorf(loaderInitializationWorkingDirectoryError, workingDirectoryError)
	}
	homeDirectory := os.Getenv(loaderHomeEnvironmentVariableName)
	return NewRootConfigurationLoader(workingDirectory, homeDirectory), nil
}

// WithEnvironmentLookup replaces the environment lookup, used by tests.
func (loader RootConfigurationLoader) WithEnvironmentLookup(lookup func(string) (string, bool)) RootConfigurationLoader {
	loader.lookupEnv = lookup
	return loader
}

type configurationCandidate struct {
	path       string
	isExplicit bool
}

// Load returns the first readable candidate, falling back to the embedded configuration.
// An explicit path that exists but cannot be read is an error; a missing one is skipped.
func (loader RootConfigurationLoader) Load(explicitPath string) (RootConfigurationSource, error) {
	for _, candidate := range loader.candidates(explicitPath) {
		if candidate.path == "" {
			continue
		}
		content, readError := loader.fileReader(candidate.path)
		if readError != nil {
			if candidate.isExplicit && !errors.Is(readError, fs.ErrNotExist) && !errors.Is(readError, fs.ErrPermission) {
				return RootConfigurationSource{}, fmt.Errorf(explicitConfigurationReadErrorFormat, candidate.path, readError)
			}
			continue
		}
		return RootConfigurationSource{Reference: candidate.path, Content: content}, nil
	}
	return EmbeddedRootConfiguration(), nil
}

// EmbeddedRootConfiguration returns the configuration compiled into the binary.
func EmbeddedRootConfiguration() RootConfigurationSource {
	return RootConfigurationSource{Reference: EmbeddedRootConfigurationReference, Content: embeddedRootConfigurationBytes}
}

func (loader RootConfigurationLoader) candidates(explicitPath string) []configurationCandidate {
	trimmedExplicit := strings.TrimSpace(explicitPath)
	candidates := []configurationCandidate{{path: trimmedExplicit, isExplicit: trimmedExplicit != ""}}
	if loader.lookupEnv != nil {
		if environmentPath, ok := loader.lookupEnv(ConfigurationPathEnvironmentVariable); ok {
			trimmed := strings.TrimSpace(environmentPath)
			candidates = append(candidates, configurationCandidate{path: trimmed, isExplicit: trimmed != ""})
		}
	}
	if loader.workingDirectory != "" {
		candidates = append(candidates, configurationCandidate{path: filepath.Join(loader.workingDirectory, workingDirectoryConfigurationFileName)})
	}
	if loader.homeDirectory != "" {
		configurationDirectory := filepath.Join(loader.homeDirectory, homeDirectoryConfigurationRelativeDirectory)
		candidates = append(candidates, configurationCandidate{path: filepath.Join(configurationDirectory, homeDirectoryConfigurationFileName)})
	}
	return candidates
}

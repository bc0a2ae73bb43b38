package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	emptyModelsErrorMessage                  = "config.models is empty"
	missingDefaultModelErrorMessage          = "no default model found (set models[].default: true)"
	missingEnvironmentPathErrorMessage       = "environment.path is empty"
	missingPythonVersionErrorMessage         = "environment.python_version is empty"
	emptyPackagesErrorMessage                = "environment.packages is empty"
	packageFieldMissingErrorFormat           = "environment.packages[%d]: name and channel are required"
	rootConfigurationEmptyContentErrorFormat = "root configuration %s is empty"
	rootConfigurationUnmarshalErrorFormat    = "unmarshal root configuration %s: %w"
	defaultPackageManager                    = "conda"
	defaultMaxChars                          = 10000
	defaultSessionDatabasePath               = "directorium_memory.db"
	defaultMaxTurns                          = 16
)

type Root struct {
	Common      Common      `yaml:"common"`
	Models      []Model     `yaml:"models"`
	Environment Environment `yaml:"environment"`
	Workspace   Workspace   `yaml:"workspace"`
	Session     Session     `yaml:"session"`
}

type Common struct {
	API struct {
		Endpoint  string `yaml:"endpoint"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"api"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Defaults struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"defaults"`
}

type Model struct {
	Name                string  `yaml:"name"`
	Provider            string  `yaml:"provider"`
	ModelID             string  `yaml:"model_id"`
	Default             bool    `yaml:"default"`
	SupportsTemperature bool    `yaml:"supports_temperature"`
	DefaultTemperature  float64 `yaml:"default_temperature"`
	MaxCompletionTokens int     `yaml:"max_completion_tokens"`
}

// Environment describes the conda environment the provisioner builds.
type Environment struct {
	Manager       string    `yaml:"manager"`
	Path          string    `yaml:"path"`
	PythonVersion string    `yaml:"python_version"`
	Packages      []Package `yaml:"packages"`
}

type Package struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"`
}

// Workspace bounds what the agent tools may touch.
type Workspace struct {
	AllowedRoots  []string `yaml:"allowed_roots"`
	WhitelistPath string   `yaml:"whitelist_path"`
	MaxChars      int      `yaml:"max_chars"`
}

type Session struct {
	DatabasePath string `yaml:"db_path"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxTurns     int    `yaml:"max_turns"`
}

// LoadRoot parses the provided configuration source, applies defaults and validates required fields.
func LoadRoot(source RootConfigurationSource) (Root, error) {
	if len(source.Content) == 0 {
		return Root{}, fmt.Errorf(rootConfigurationEmptyContentErrorFormat, source.Reference)
	}

	var rootConfiguration Root
	if err := yaml.Unmarshal(source.Content, &rootConfiguration); err != nil {
		return Root{}, fmt.Errorf(rootConfigurationUnmarshalErrorFormat, source.Reference, err)
	}

	if len(rootConfiguration.Models) == 0 {
		return Root{}, errors.New(emptyModelsErrorMessage)
	}
	if _, ok := rootConfiguration.DefaultModel(); !ok {
		return Root{}, errors.New(missingDefaultModelErrorMessage)
	}
	if err := rootConfiguration.Environment.validate(); err != nil {
		return Root{}, err
	}
	rootConfiguration.applyDefaults()
	return rootConfiguration, nil
}

func (environment Environment) validate() error {
	if strings.TrimSpace(environment.Path) == "" {
		return errors.New(missingEnvironmentPathErrorMessage)
	}
	if strings.TrimSpace(environment.PythonVersion) == "" {
		return errors.New(missingPythonVersionErrorMessage)
	}
	if len(environment.Packages) == 0 {
		return errors.New(emptyPackagesErrorMessage)
	}
	for index, pkg := range environment.Packages {
		if strings.TrimSpace(pkg.Name) == "" || strings.TrimSpace(pkg.Channel) == "" {
			return fmt.Errorf(packageFieldMissingErrorFormat, index)
		}
	}
	return nil
}

func (root *Root) applyDefaults() {
	if strings.TrimSpace(root.Environment.Manager) == "" {
		root.Environment.Manager = defaultPackageManager
	}
	if root.Workspace.MaxChars <= 0 {
		root.Workspace.MaxChars = defaultMaxChars
	}
	if strings.TrimSpace(root.Session.DatabasePath) == "" {
		root.Session.DatabasePath = defaultSessionDatabasePath
	}
	if root.Session.MaxTurns <= 0 {
		root.Session.MaxTurns = defaultMaxTurns
	}
}

func (root Root) DefaultModel() (Model, bool) {
	for _, modelConfiguration := range root.Models {
		if modelConfiguration.Default {
			return modelConfiguration, true
		}
	}
	return Model{}, false
}

func (root Root) FindModel(name string) (Model, bool) {
	for _, modelConfiguration := range root.Models {
		if modelConfiguration.Name == name || modelConfiguration.ModelID == name {
			return modelConfiguration, true
		}
	}
	return Model{}, false
}

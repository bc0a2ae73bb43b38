package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	dotenvFileName             = ".env"
	dotenvConfigType           = "env"
	dotenvReadErrorFormat      = "read %s: %w"
	ModelEnvironmentVariable   = "OPENAI_MODEL"
	BaseURLEnvironmentVariable = "OPENAI_BASE_URL"
)

// Dotenv resolves settings from the process environment first and a .env file second.
type Dotenv struct {
	values *viper.Viper
}

// LoadDotenv reads <directory>/.env when present. A missing file is not an error.
func LoadDotenv(directory string) (Dotenv, error) {
	values := viper.New()
	values.AutomaticEnv()
	values.SetConfigType(dotenvConfigType)
	dotenvPath := filepath.Join(directory, dotenvFileName)
	values.SetConfigFile(dotenvPath)
	if readErr := values.ReadInConfig(); readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) && !errors.Is(readErr, fs.ErrNotExist) {
			return Dotenv{}, fmt.Errorf(dotenvReadErrorFormat, dotenvPath, readErr)
		}
	}
	return Dotenv{values: values}, nil
}

// Get returns the trimmed value for name, or "" when unset.
func (dotenv Dotenv) Get(name string) string {
	if dotenv.values == nil || strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.TrimSpace(dotenv.values.GetString(name))
}

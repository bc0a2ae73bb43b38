package directorium

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/temirov/directorium/internal/config"
	"github.com/temirov/directorium/internal/pathguard"
	"github.com/temirov/directorium/internal/tools"
)

const (
	consoleLogEncoding = "console"
	jsonLogEncoding    = "json"
)

func loadRootConfiguration(deps dependencies, configurationPath string) (config.Root, error) {
	workingDirectory, err := deps.workingDirectory()
	if err != nil {
		return config.Root{}, fmt.Errorf(configurationLoaderInitializationErrorFormat, err)
	}
	homeDirectory, _ := deps.lookupEnv("HOME")
	configurationLoader := config.NewRootConfigurationLoader(workingDirectory, homeDirectory).WithEnvironmentLookup(deps.lookupEnv)
	configurationSource, sourceErr := configurationLoader.Load(strings.TrimSpace(configurationPath))
	if sourceErr != nil {
		return config.Root{}, fmt.Errorf(configurationSourceResolutionErrorFormat, sourceErr)
	}
	rootConfiguration, loadErr := config.LoadRoot(configurationSource)
	if loadErr != nil {
		return config.Root{}, fmt.Errorf(rootConfigurationLoadErrorFormat, configurationSource.Reference, loadErr)
	}
	return rootConfiguration, nil
}

// newLogger builds a production zap logger writing to stderr at the configured level and encoding.
func newLogger(rootConfiguration config.Root, verbose bool) (*zap.Logger, error) {
	loggerConfiguration := zap.NewProductionConfig()
	loggerConfiguration.Encoding = consoleLogEncoding
	if strings.EqualFold(strings.TrimSpace(rootConfiguration.Common.Logging.Format), jsonLogEncoding) {
		loggerConfiguration.Encoding = jsonLogEncoding
	}
	loggerConfiguration.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zapcore.InfoLevel
	if configuredLevel := strings.TrimSpace(rootConfiguration.Common.Logging.Level); configuredLevel != "" {
		if err := level.UnmarshalText([]byte(configuredLevel)); err != nil {
			return nil, fmt.Errorf(loggerBuildErrorFormat, err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	loggerConfiguration.Level = zap.NewAtomicLevelAt(level)
	logger, err := loggerConfiguration.Build()
	if err != nil {
		return nil, fmt.Errorf(loggerBuildErrorFormat, err)
	}
	return logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

// resolveAgainst makes path absolute relative to base.
func resolveAgainst(base string, path string) string {
	trimmed := expandHome(strings.TrimSpace(path))
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(base, trimmed)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDirectory, err := os.UserHomeDir()
	if err != nil || homeDirectory == "" {
		return path
	}
	return filepath.Join(homeDirectory, strings.TrimPrefix(path, "~"))
}

func newToolRegistry(deps dependencies, rootConfiguration config.Root, logger *zap.Logger) (*tools.Registry, error) {
	workingDirectory, err := deps.workingDirectory()
	if err != nil {
		return nil, err
	}
	options := []pathguard.Option{pathguard.WithLogger(logger), pathguard.WithRoots(rootConfiguration.Workspace.AllowedRoots...)}
	if whitelistPath := resolveAgainst(workingDirectory, rootConfiguration.Workspace.WhitelistPath); whitelistPath != "" {
		options = append(options, pathguard.WithWhitelistFile(whitelistPath))
	}
	guard := pathguard.New(deps.filesystem, options...)
	return tools.NewRegistry(tools.NewToolbox(guard, deps.filesystem, rootConfiguration.Workspace.MaxChars, logger)), nil
}

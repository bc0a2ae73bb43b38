// Package directorium is the command-line surface: provisioning, direct tool runs and the chat agent.
package directorium

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/temirov/directorium/internal/fsops"
	"github.com/temirov/directorium/internal/provision"
)

// dependencies are the process-level collaborators the commands use; tests replace them.
type dependencies struct {
	newCommandRunner func(stdout io.Writer, stderr io.Writer) provision.CommandRunner
	filesystem       fsops.Ops
	lookupEnv        func(string) (string, bool)
	environ          func() []string
	workingDirectory func() (string, error)
}

func defaultDependencies() dependencies {
	return dependencies{
		newCommandRunner: provision.NewCommandRunner,
		filesystem:       fsops.NewOS(),
		lookupEnv:        os.LookupEnv,
		environ:          os.Environ,
		workingDirectory: os.Getwd,
	}
}

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCommand builds the directorium command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultDependencies())
}

func newRootCommand(deps dependencies) *cobra.Command {
	options := &rootOptions{}
	command := &cobra.Command{
		Use:           rootCommandUse,
		Short:         rootCommandShort,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.PersistentFlags().StringVar(&options.configPath, configFlagName, "", configFlagUsage)
	addBoolChoiceFlag(command.PersistentFlags(), &options.verbose, verboseFlagName, verboseFlagUsage)

	command.AddCommand(newProvisionCommand(deps, options))
	command.AddCommand(newToolsCommand(deps, options))
	command.AddCommand(newChatCommand(deps, options))
	return command
}

// Execute runs the command tree with interrupt-aware context and returns the command error.
func Execute() error {
	ctx, stop := signalContext(context.Background())
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

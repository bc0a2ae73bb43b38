package directorium

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const (
	readOnlyToolLabel  = "read-only"
	writeToolLabel     = "write"
	confirmedArgument  = "confirmed"
	unknownToolFormat  = "unknown tool %q (run 'directorium tools' for the list)"
	toolArgumentsError = "decode tool arguments: %w"
)

type toolsCommandOptions struct {
	confirmed bool
}

func newToolsCommand(deps dependencies, root *rootOptions) *cobra.Command {
	options := &toolsCommandOptions{}
	command := &cobra.Command{
		Use:   toolsCommandUse,
		Short: toolsCommandShort,
		Args:  cobra.MaximumNArgs(toolsCommandArgsMax),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsCommand(cmd, deps, *root, *options, args)
		},
	}
	addBoolChoiceFlag(command.Flags(), &options.confirmed, yesFlagName, yesFlagUsage)
	return command
}

func runToolsCommand(cmd *cobra.Command, deps dependencies, root rootOptions, options toolsCommandOptions, args []string) error {
	rootConfiguration, err := loadRootConfiguration(deps, root.configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(rootConfiguration, root.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry, err := newToolRegistry(deps, rootConfiguration, logger)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		for _, name := range registry.Names() {
			label := writeToolLabel
			if registry.ReadOnly(name) {
				label = readOnlyToolLabel
			}
			if _, writeErr := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, label); writeErr != nil {
				return writeErr
			}
		}
		return nil
	}

	name := strings.TrimSpace(args[0])
	if !containsTool(registry.Names(), name) {
		return fmt.Errorf(unknownToolFormat, name)
	}
	arguments := map[string]any{}
	if len(args) > 1 && strings.TrimSpace(args[1]) != "" {
		if decodeErr := json.Unmarshal([]byte(args[1]), &arguments); decodeErr != nil {
			return fmt.Errorf(toolArgumentsError, decodeErr)
		}
		if arguments == nil {
			arguments = map[string]any{}
		}
	}
	if options.confirmed && !registry.ReadOnly(name) {
		arguments[confirmedArgument] = true
	}
	encoded, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf(toolArgumentsError, err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), registry.Call(commandContext(cmd), name, string(encoded)))
	return err
}

func containsTool(names []string, name string) bool {
	for _, candidate := range names {
		if candidate == name {
			return true
		}
	}
	return false
}

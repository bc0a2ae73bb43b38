package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/directorium/internal/llm"
)

const (
	getFilesInfoName    = "get_files_info"
	getFileContentName  = "get_file_content"
	getFileMetadataName = "get_file_metadata"

	unknownFunctionFormat  = "Error: Unknown function '%s'"
	invalidArgumentsFormat = "Error: Invalid arguments - %s"
	missingArgumentFormat  = "missing required argument '%s'"
)

type property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

type parameters struct {
	Type       string              `json:"type"`
	Properties map[string]property `json:"properties"`
	Required   []string            `json:"required"`
}

type handler func(box *Toolbox, arguments map[string]any) (string, error)

type entry struct {
	definition llm.Tool
	readOnly   bool
	handle     handler
}

// Registry maps tool names to implementations and their function schemas.
type Registry struct {
	box     *Toolbox
	entries map[string]entry
	order   []string
}

// NewRegistry registers the six workspace tools, read-only tools first.
func NewRegistry(box *Toolbox) *Registry {
	registry := &Registry{box: box, entries: map[string]entry{}}
	pathProperty := func(description string) property { return property{Type: "string", Description: description} }
	confirmedProperty := property{
		Type: "boolean",
		Description: "Set to false to propose the action for review (returns STAGED_ACTION). " +
			"Set to true ONLY after the user explicitly confirms this specific action. Default is false.",
		Default: false,
	}

	registry.register(getFilesInfoName,
		"Lists files in a specified directory. Requires an absolute path within an authorized directory. Provides file size and directory status for each item.",
		parameters{Properties: map[string]property{"path": pathProperty("The absolute path to the directory to list.")}, Required: []string{"path"}},
		true,
		func(box *Toolbox, arguments map[string]any) (string, error) {
			path, err := requiredString(arguments, "path")
			if err != nil {
				return "", err
			}
			return box.GetFilesInfo(path), nil
		})
	registry.register(getFileContentName,
		"Reads the content of a text file. Requires an absolute path within an authorized directory. Long files are truncated.",
		parameters{Properties: map[string]property{"path": pathProperty("The absolute path to the file to read.")}, Required: []string{"path"}},
		true,
		func(box *Toolbox, arguments map[string]any) (string, error) {
			path, err := requiredString(arguments, "path")
			if err != nil {
				return "", err
			}
			return box.GetFileContent(path), nil
		})
	registry.register(getFileMetadataName,
		"Retrieves metadata about a file including size, extension, last modified date and image details. Returns a JSON string.",
		parameters{Properties: map[string]property{"file_path": pathProperty("The absolute path to the file.")}, Required: []string{"file_path"}},
		true,
		func(box *Toolbox, arguments map[string]any) (string, error) {
			path, err := requiredString(arguments, "file_path")
			if err != nil {
				return "", err
			}
			return box.GetFileMetadata(path), nil
		})
	registry.register(moveFileName,
		"Moves a file or directory from source to destination. Both paths must be absolute and authorized. "+
			"MANDATORY STAGING: call with confirmed=false first and ask the user; confirmed=true only after explicit approval.",
		parameters{
			Properties: map[string]property{
				"source_path":      pathProperty("The absolute path to the file or directory to move."),
				"destination_path": pathProperty("The absolute path to the destination."),
				"confirmed":        confirmedProperty,
			},
			Required: []string{"source_path", "destination_path"},
		},
		false,
		func(box *Toolbox, arguments map[string]any) (string, error) {
			source, err := requiredString(arguments, "source_path")
			if err != nil {
				return "", err
			}
			destination, err := requiredString(arguments, "destination_path")
			if err != nil {
				return "", err
			}
			return box.MoveFile(source, destination, optionalBool(arguments, "confirmed")), nil
		})
	registry.register(createFolderName,
		"Creates a folder, including missing parent directories. The path must be absolute and authorized. "+
			"MANDATORY STAGING: call with confirmed=false first and ask the user; confirmed=true only after explicit approval.",
		parameters{
			Properties: map[string]property{
				"folder_path": pathProperty("The absolute path of the folder to create."),
				"confirmed":   confirmedProperty,
			},
			Required: []string{"folder_path"},
		},
		false,
		func(box *Toolbox, arguments map[string]any) (string, error) {
			folder, err := requiredString(arguments, "folder_path")
			if err != nil {
				return "", err
			}
			return box.CreateFolder(folder, optionalBool(arguments, "confirmed")), nil
		})
	registry.register(renameFileName,
		"Renames a file or directory. Both paths must be absolute and authorized, and the new path must not exist. "+
			"MANDATORY STAGING: call with confirmed=false first and ask the user; confirmed=true only after explicit approval.",
		parameters{
			Properties: map[string]property{
				"old_path":  pathProperty("The absolute path of the file or directory to rename."),
				"new_path":  pathProperty("The absolute path with the new name."),
				"confirmed": confirmedProperty,
			},
			Required: []string{"old_path", "new_path"},
		},
		false,
		func(box *Toolbox, arguments map[string]any) (string, error) {
			oldPath, err := requiredString(arguments, "old_path")
			if err != nil {
				return "", err
			}
			newPath, err := requiredString(arguments, "new_path")
			if err != nil {
				return "", err
			}
			return box.RenameFile(oldPath, newPath, optionalBool(arguments, "confirmed")), nil
		})
	return registry
}

func (r *Registry) register(name string, description string, schema parameters, readOnly bool, handle handler) {
	schema.Type = "object"
	encoded, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("encode %s schema: %v", name, err))
	}
	r.entries[name] = entry{definition: llm.NewFunctionTool(name, description, encoded), readOnly: readOnly, handle: handle}
	r.order = append(r.order, name)
}

// Definitions returns the function schemas in registration order.
func (r *Registry) Definitions() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].definition)
	}
	return out
}

// Names returns the registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// ReadOnly reports whether the named tool never mutates the filesystem.
func (r *Registry) ReadOnly(name string) bool {
	registered, ok := r.entries[name]
	return ok && registered.readOnly
}

// Call dispatches one tool call. Arguments are a JSON object; unknown fields are ignored.
// The result is always a string for the model, errors included.
func (r *Registry) Call(ctx context.Context, name string, argumentsJSON string) string {
	registered, ok := r.entries[name]
	if !ok {
		return fmt.Sprintf(unknownFunctionFormat, name)
	}
	if err := ctx.Err(); err != nil {
		return errorResult(err)
	}
	arguments := map[string]any{}
	if trimmed := strings.TrimSpace(argumentsJSON); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &arguments); err != nil {
			return fmt.Sprintf(invalidArgumentsFormat, err)
		}
	}
	result, err := registered.handle(r.box, arguments)
	if err != nil {
		return fmt.Sprintf(invalidArgumentsFormat, err)
	}
	r.box.logger.Debug("tool call", zap.String("tool", name), zap.Bool("staged", IsStaged(result)))
	return result
}

func requiredString(arguments map[string]any, key string) (string, error) {
	value, ok := arguments[key]
	if !ok || value == nil {
		return "", fmt.Errorf(missingArgumentFormat, key)
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("argument '%s' must be a string", key)
	}
	return text, nil
}

func optionalBool(arguments map[string]any, key string) bool {
	switch value := arguments[key].(type) {
	case bool:
		return value
	case string:
		return strings.EqualFold(strings.TrimSpace(value), "true")
	default:
		return false
	}
}

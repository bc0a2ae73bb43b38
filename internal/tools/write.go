package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	moveFileName     = "move_file"
	createFolderName = "create_folder"
	renameFileName   = "rename_file"
)

// stagedAction renders an unconfirmed write call as STAGED_ACTION: <tool> -> k='v', ...
func stagedAction(tool string, pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2)
	for index := 0; index+1 < len(pairs); index += 2 {
		parts = append(parts, fmt.Sprintf("%s='%s'", pairs[index], pairs[index+1]))
	}
	return fmt.Sprintf("%s %s -> %s", StagedActionPrefix, tool, strings.Join(parts, ", "))
}

// IsStaged reports whether a tool result is a staged action awaiting confirmation.
func IsStaged(result string) bool {
	return strings.HasPrefix(result, StagedActionPrefix)
}

func itemKind(isDir bool) string {
	if isDir {
		return "directory"
	}
	return "file"
}

// MoveFile moves a file or directory. Unconfirmed calls only validate and stage.
func (box *Toolbox) MoveFile(sourcePath string, destinationPath string, confirmed bool) string {
	resolvedSource, err := box.guard.Authorize(sourcePath)
	if err != nil {
		return err.Error()
	}
	resolvedDestination, err := box.guard.Authorize(destinationPath)
	if err != nil {
		return err.Error()
	}
	if !box.fs.Exists(resolvedSource) {
		return fmt.Sprintf(`Error: Source path does not exist: "%s"`, sourcePath)
	}
	kind := itemKind(box.fs.IsDir(resolvedSource))

	if !confirmed {
		return stagedAction(moveFileName, "source", sourcePath, "destination", destinationPath)
	}

	target, err := box.fs.Move(resolvedSource, resolvedDestination)
	if err != nil {
		return accessError("moving", sourcePath, err)
	}
	box.logger.Info("moved path", zap.String("source", resolvedSource), zap.String("target", target))
	return fmt.Sprintf(`Successfully moved %s "%s" to "%s"`, kind, sourcePath, destinationPath)
}

// CreateFolder creates a folder and any missing parents. Unconfirmed calls only validate and stage.
func (box *Toolbox) CreateFolder(folderPath string, confirmed bool) string {
	resolved, err := box.guard.Authorize(folderPath)
	if err != nil {
		return err.Error()
	}
	if box.fs.Exists(resolved) {
		if box.fs.IsDir(resolved) {
			return fmt.Sprintf(`Folder already exists: "%s"`, folderPath)
		}
		return fmt.Sprintf(`Error: A file already exists at this path: "%s"`, folderPath)
	}
	willCreateParents := !box.fs.Exists(filepath.Dir(resolved))

	if !confirmed {
		staged := stagedAction(createFolderName, "folder_path", folderPath)
		if willCreateParents {
			staged += " (will create parent directories)"
		}
		return staged
	}

	if err := box.fs.EnsureDir(resolved); err != nil {
		return accessError("creating folder", folderPath, err)
	}
	box.logger.Info("created folder", zap.String("path", resolved))
	return fmt.Sprintf(`Successfully created folder: "%s"`, folderPath)
}

// RenameFile renames a file or directory without replacing an existing destination.
// Unconfirmed calls only validate and stage.
func (box *Toolbox) RenameFile(oldPath string, newPath string, confirmed bool) string {
	resolvedOld, err := box.guard.Authorize(oldPath)
	if err != nil {
		return err.Error()
	}
	resolvedNew, err := box.guard.Authorize(newPath)
	if err != nil {
		return err.Error()
	}
	if !box.fs.Exists(resolvedOld) {
		return fmt.Sprintf(`Error: Path does not exist: "%s"`, oldPath)
	}
	if box.fs.Exists(resolvedNew) {
		return fmt.Sprintf(`Error: Destination already exists: "%s". Use move_file to overwrite.`, newPath)
	}
	kind := itemKind(box.fs.IsDir(resolvedOld))

	if !confirmed {
		return stagedAction(renameFileName, "old_path", oldPath, "new_path", newPath)
	}

	if err := box.fs.Rename(resolvedOld, resolvedNew); err != nil {
		return accessError("renaming", oldPath, err)
	}
	box.logger.Info("renamed path", zap.String("old", resolvedOld), zap.String("new", resolvedNew))
	return fmt.Sprintf(`Successfully renamed %s "%s" to "%s"`, kind, filepath.Base(oldPath), filepath.Base(newPath))
}

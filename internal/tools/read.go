package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	lastModifiedLayout = "2006-01-02T15:04:05.999999"
	sizeUnitBase       = 1024
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// GetFilesInfo lists a directory sorted by name, one line per entry.
func (box *Toolbox) GetFilesInfo(path string) string {
	resolved, err := box.guard.Authorize(path)
	if err != nil {
		return err.Error()
	}
	if !box.fs.IsDir(resolved) {
		return fmt.Sprintf(`Error: "%s" is not a directory`, path)
	}
	entries, err := box.fs.List(resolved)
	if err != nil {
		return accessError("accessing", path, err)
	}
	if len(entries) == 0 {
		return "(empty directory)"
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("- %s: file_size=%d bytes, is_dir=%s", entry.Name, entry.SizeBytes, capitalizedBool(entry.IsDir)))
	}
	return strings.Join(lines, "\n")
}

// GetFileContent returns up to maxChars characters of a UTF-8 text file.
func (box *Toolbox) GetFileContent(path string) string {
	resolved, err := box.guard.Authorize(path)
	if err != nil {
		return err.Error()
	}
	if !box.fs.IsRegular(resolved) {
		return fmt.Sprintf(`Error: File not found or is not a regular file: "%s"`, path)
	}
	data, more, err := box.fs.ReadPrefix(resolved, int64((box.maxChars+1)*utf8.UTFMax))
	if err != nil {
		return accessError("reading", path, err)
	}

	var builder strings.Builder
	characters := 0
	truncated := false
	for offset := 0; offset < len(data); {
		if characters == box.maxChars {
			truncated = true
			break
		}
		r, size := utf8.DecodeRune(data[offset:])
		if r == utf8.RuneError && size <= 1 {
			if more && len(data)-offset < utf8.UTFMax {
				truncated = true
				break
			}
			return fmt.Sprintf(`Error: Cannot read "%s" - file is not valid UTF-8 text`, path)
		}
		builder.Write(data[offset : offset+size])
		offset += size
		characters++
	}
	if more {
		truncated = true
	}
	if truncated {
		fmt.Fprintf(&builder, "\n[...File \"%s\" truncated at %d characters]", path, box.maxChars)
	}
	return builder.String()
}

type fileMetadata struct {
	Path         string            `json:"path"`
	Name         string            `json:"name"`
	SizeBytes    int64             `json:"size_bytes"`
	SizeHuman    string            `json:"size_human"`
	Extension    *string           `json:"extension"`
	LastModified string            `json:"last_modified"`
	IsDirectory  bool              `json:"is_directory"`
	ItemCount    *int              `json:"item_count,omitempty"`
	Image        map[string]string `json:"image,omitempty"`
}

// GetFileMetadata describes a file or directory as indented JSON.
func (box *Toolbox) GetFileMetadata(filePath string) string {
	resolved, err := box.guard.Authorize(filePath)
	if err != nil {
		return err.Error()
	}
	info, err := box.fs.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf(`Error: Path does not exist: "%s"`, filePath)
	}
	if err != nil {
		return accessError("accessing", filePath, err)
	}

	metadata := fileMetadata{
		Path:         filePath,
		Name:         filepath.Base(resolved),
		SizeBytes:    info.Size(),
		SizeHuman:    formatSize(info.Size()),
		LastModified: info.ModTime().Local().Format(lastModifiedLayout),
		IsDirectory:  info.IsDir(),
	}
	if extension := filepath.Ext(resolved); extension != "" && extension != filepath.Base(resolved) {
		metadata.Extension = &extension
	}
	if info.IsDir() {
		if count, countErr := box.fs.CountEntries(resolved); countErr == nil {
			metadata.ItemCount = &count
		}
	} else {
		metadata.Image = box.imageMetadata(resolved)
	}

	encoded, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return string(encoded)
}

func formatSize(sizeBytes int64) string {
	size := float64(sizeBytes)
	for _, unit := range sizeUnits {
		if size < sizeUnitBase {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= sizeUnitBase
	}
	return fmt.Sprintf("%.1f PB", size)
}

func capitalizedBool(value bool) string {
	if value {
		return "True"
	}
	return "False"
}

func accessError(action string, path string, err error) string {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Sprintf(`Error: Permission denied %s "%s"`, action, path)
	}
	return errorResult(err)
}

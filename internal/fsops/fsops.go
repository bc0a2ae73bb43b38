// Package fsops wraps an afero filesystem with the operations the provisioner and the workspace tools need.
package fsops

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

const directoryPermissions = 0o755

// Ops is the filesystem façade shared by the provisioner and the tools.
type Ops struct{ Fs afero.Fs }

// NewOS returns Ops backed by the host filesystem.
func NewOS() Ops { return Ops{Fs: afero.NewOsFs()} }

// NewMem returns Ops backed by an in-memory filesystem, used by tests.
func NewMem() Ops { return Ops{Fs: afero.NewMemMapFs()} }

// Entry is one item of a directory listing.
type Entry struct {
	Name      string
	SizeBytes int64
	IsDir     bool
}

func (o Ops) Stat(name string) (fs.FileInfo, error) { return o.Fs.Stat(filepath.Clean(name)) }

func (o Ops) Exists(name string) bool {
	_, err := o.Stat(name)
	return err == nil
}

func (o Ops) IsDir(name string) bool {
	info, err := o.Stat(name)
	return err == nil && info.IsDir()
}

func (o Ops) IsRegular(name string) bool {
	info, err := o.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

// List returns the entries of a directory sorted by name. Entries that cannot be
// stat'ed are skipped.
func (o Ops) List(dir string) ([]Entry, error) {
	names, err := o.readDirNames(dir)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		info, statErr := o.Fs.Stat(filepath.Join(dir, name))
		if statErr != nil {
			continue
		}
		entries = append(entries, Entry{Name: name, SizeBytes: info.Size(), IsDir: info.IsDir()})
	}
	return entries, nil
}

// CountEntries returns the number of items directly inside dir.
func (o Ops) CountEntries(dir string) (int, error) {
	names, err := o.readDirNames(dir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (o Ops) readDirNames(dir string) ([]string, error) {
	handle, err := o.Fs.Open(filepath.Clean(dir))
	if err != nil {
		return nil, err
	}
	defer handle.Close()
	return handle.Readdirnames(-1)
}

// ReadPrefix reads at most limit bytes and reports whether more data follows.
func (o Ops) ReadPrefix(name string, limit int64) ([]byte, bool, error) {
	handle, err := o.Fs.Open(filepath.Clean(name))
	if err != nil {
		return nil, false, err
	}
	defer handle.Close()
	data, err := io.ReadAll(io.LimitReader(handle, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

func (o Ops) ReadFile(name string) ([]byte, error) { return afero.ReadFile(o.Fs, filepath.Clean(name)) }

// EnsureDir creates path and any missing parents.
func (o Ops) EnsureDir(path string) error {
	return o.Fs.MkdirAll(filepath.Clean(path), directoryPermissions)
}

// EnsureParent creates the parent directory of path.
func (o Ops) EnsureParent(path string) error { return o.EnsureDir(filepath.Dir(path)) }

// Rename renames oldpath to newpath without replacing an existing destination directory.
func (o Ops) Rename(oldpath, newpath string) error {
	return o.Fs.Rename(filepath.Clean(oldpath), filepath.Clean(newpath))
}

// Move places source at destination. When destination is an existing directory the
// source is moved inside it, mirroring `mv`. Cross-device moves fall back to copy and remove.
func (o Ops) Move(source, destination string) (string, error) {
	target := filepath.Clean(destination)
	if o.IsDir(target) {
		target = filepath.Join(target, filepath.Base(filepath.Clean(source)))
	}
	if err := o.EnsureParent(target); err != nil {
		return "", err
	}
	renameErr := o.Fs.Rename(filepath.Clean(source), target)
	if renameErr == nil {
		return target, nil
	}
	var linkErr *os.LinkError
	if !errors.As(renameErr, &linkErr) {
		return "", renameErr
	}
	if err := o.copyTree(filepath.Clean(source), target); err != nil {
		return "", err
	}
	return target, o.Fs.RemoveAll(filepath.Clean(source))
}

func (o Ops) copyTree(source, destination string) error {
	return afero.Walk(o.Fs, source, func(current string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(source, current)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, relative)
		if info.IsDir() {
			return o.Fs.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		data, err := afero.ReadFile(o.Fs, current)
		if err != nil {
			return err
		}
		return afero.WriteFile(o.Fs, target, data, info.Mode().Perm())
	})
}

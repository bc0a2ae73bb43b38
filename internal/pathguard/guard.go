// Package pathguard authorizes filesystem paths against a whitelist of allowed roots.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/temirov/directorium/internal/fsops"
)

var (
	ErrNoPath         = errors.New("Error: No path provided.")
	ErrNoAllowedRoots = errors.New("Error: No authorized paths configured in whitelist.")
	ErrRelativePath   = errors.New("Error: Relative paths are not supported. Please provide an absolute path.")
	ErrAccessDenied   = errors.New("Error: Access Denied. This path is outside the authorized security zones.")
)

const resolvePathErrorFormat = "Error: Cannot resolve path: %w"

type whitelistFile struct {
	AllowedRoots []string `yaml:"allowed_roots"`
}

// Guard holds the allowed roots. Static roots come from configuration; file roots
// are read from the whitelist file and reloaded whenever its modification time changes.
type Guard struct {
	fs            fsops.Ops
	logger        *zap.Logger
	whitelistPath string
	staticRoots   []string

	mutex       sync.Mutex
	cachedRoots []string
	cachedMtime time.Time
	cached      bool
}

type Option func(*Guard)

// WithWhitelistFile reads additional roots from a YAML file with an allowed_roots list.
func WithWhitelistFile(path string) Option {
	return func(guard *Guard) { guard.whitelistPath = strings.TrimSpace(path) }
}

// WithRoots adds roots that are always allowed.
func WithRoots(roots ...string) Option {
	return func(guard *Guard) { guard.staticRoots = append(guard.staticRoots, roots...) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(guard *Guard) {
		if logger != nil {
			guard.logger = logger
		}
	}
}

func New(fs fsops.Ops, options ...Option) *Guard {
	guard := &Guard{fs: fs, logger: zap.NewNop()}
	for _, option := range options {
		option(guard)
	}
	return guard
}

// Roots returns a copy of the normalized allowed roots, static roots first.
func (g *Guard) Roots() []string {
	return append([]string(nil), g.roots()...)
}

// Reset drops the cached whitelist so the next call rereads the file.
func (g *Guard) Reset() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.cachedRoots = nil
	g.cachedMtime = time.Time{}
	g.cached = false
}

// Authorize returns the resolved absolute path when it lies inside an allowed root.
func (g *Guard) Authorize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrNoPath
	}
	roots := g.roots()
	if len(roots) == 0 {
		return "", ErrNoAllowedRoots
	}
	expanded := expandHome(path)
	if !filepath.IsAbs(expanded) {
		return "", ErrRelativePath
	}
	resolved, err := resolve(expanded)
	if err != nil {
		return "", fmt.Errorf(resolvePathErrorFormat, err)
	}
	for _, root := range roots {
		if within(root, resolved) {
			return resolved, nil
		}
	}
	g.logger.Warn("path outside allowed roots", zap.String("path", path), zap.String("resolved", resolved))
	return "", ErrAccessDenied
}

func (g *Guard) roots() []string {
	combined := normalizeRoots(g.staticRoots)
	for _, root := range g.fileRoots() {
		if !contains(combined, root) {
			combined = append(combined, root)
		}
	}
	return combined
}

func (g *Guard) fileRoots() []string {
	if g.whitelistPath == "" {
		return nil
	}
	g.mutex.Lock()
	defer g.mutex.Unlock()

	info, err := g.fs.Stat(g.whitelistPath)
	if err != nil {
		return nil
	}
	if g.cached && info.ModTime().Equal(g.cachedMtime) {
		return g.cachedRoots
	}
	data, err := g.fs.ReadFile(g.whitelistPath)
	if err != nil {
		g.logger.Warn("could not read whitelist", zap.String("path", g.whitelistPath), zap.Error(err))
		return nil
	}
	var parsed whitelistFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		g.logger.Warn("could not load whitelist", zap.String("path", g.whitelistPath), zap.Error(err))
		return nil
	}
	g.cachedRoots = normalizeRoots(parsed.AllowedRoots)
	g.cachedMtime = info.ModTime()
	g.cached = true
	return g.cachedRoots
}

func normalizeRoots(roots []string) []string {
	var normalized []string
	for _, root := range roots {
		trimmed := strings.TrimSpace(root)
		if trimmed == "" {
			continue
		}
		absolute, err := filepath.Abs(expandHome(trimmed))
		if err != nil {
			continue
		}
		resolved, err := resolve(absolute)
		if err != nil {
			continue
		}
		if !contains(normalized, resolved) {
			normalized = append(normalized, resolved)
		}
	}
	return normalized
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// resolve cleans path and evaluates symlinks on its longest existing ancestor,
// keeping any non-existent tail as written.
func resolve(path string) (string, error) {
	cleaned := filepath.Clean(path)
	existing := cleaned
	var tail []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return cleaned, nil
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}
	evaluated, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{evaluated}, tail...)...), nil
}

func within(root string, target string) bool {
	relative, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return relative == "." || (relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator)))
}

func contains(values []string, candidate string) bool {
	for _, value := range values {
		if value == candidate {
			return true
		}
	}
	return false
}

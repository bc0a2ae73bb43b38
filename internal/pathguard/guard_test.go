package pathguard_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/temirov/directorium/internal/fsops"
	"github.com/temirov/directorium/internal/pathguard"
)

const workspaceRoot = "/directorium-workspace"

func TestAuthorize(t *testing.T) {
	guard := pathguard.New(fsops.NewMem(), pathguard.WithRoots(workspaceRoot))

	testCases := []struct {
		name         string
		path         string
		expectedPath string
		expectedErr  error
	}{
		{name: "empty path", path: "", expectedErr: pathguard.ErrNoPath},
		{name: "relative path", path: "notes/todo.txt", expectedErr: pathguard.ErrRelativePath},
		{name: "root itself", path: workspaceRoot, expectedPath: workspaceRoot},
		{name: "nested missing file", path: workspaceRoot + "/a/b.txt", expectedPath: workspaceRoot + "/a/b.txt"},
		{name: "dot dot escape", path: workspaceRoot + "/../etc/passwd", expectedErr: pathguard.ErrAccessDenied},
		{name: "sibling with shared prefix", path: workspaceRoot + "-other/file", expectedErr: pathguard.ErrAccessDenied},
		{name: "outside", path: "/etc/hosts", expectedErr: pathguard.ErrAccessDenied},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			resolved, err := guard.Authorize(testCase.path)
			if testCase.expectedErr != nil {
				if !errors.Is(err, testCase.expectedErr) {
					t.Fatalf("expected %v, got %v", testCase.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("authorize: %v", err)
			}
			if resolved != testCase.expectedPath {
				t.Fatalf("expected %s, got %s", testCase.expectedPath, resolved)
			}
		})
	}
}

func TestAuthorizeWithoutRoots(t *testing.T) {
	guard := pathguard.New(fsops.NewMem(), pathguard.WithWhitelistFile("/config/whitelist.yaml"))
	if _, err := guard.Authorize("/tmp"); !errors.Is(err, pathguard.ErrNoAllowedRoots) {
		t.Fatalf("expected ErrNoAllowedRoots, got %v", err)
	}
}

func TestAuthorizeErrorMessages(t *testing.T) {
	if pathguard.ErrAccessDenied.Error() != "Error: Access Denied. This path is outside the authorized security zones." {
		t.Fatalf("unexpected access denied message %q", pathguard.ErrAccessDenied.Error())
	}
	if pathguard.ErrNoAllowedRoots.Error() != "Error: No authorized paths configured in whitelist." {
		t.Fatalf("unexpected no roots message %q", pathguard.ErrNoAllowedRoots.Error())
	}
}

func TestWhitelistFileReloadsOnModification(t *testing.T) {
	fs := fsops.NewMem()
	whitelistPath := "/config/whitelist.yaml"
	writeWhitelist(t, fs.Fs, whitelistPath, "allowed_roots:\n  - /directorium-a\n  - /directorium-a\n  - \"\"\n", time.Unix(1000, 0))

	guard := pathguard.New(fs, pathguard.WithWhitelistFile(whitelistPath), pathguard.WithRoots("/directorium-static"))
	if diff := cmp.Diff([]string{"/directorium-static", "/directorium-a"}, guard.Roots()); diff != "" {
		t.Fatalf("roots mismatch (-want +got):\n%s", diff)
	}

	writeWhitelist(t, fs.Fs, whitelistPath, "allowed_roots:\n  - /directorium-b\n", time.Unix(1000, 0))
	if diff := cmp.Diff([]string{"/directorium-static", "/directorium-a"}, guard.Roots()); diff != "" {
		t.Fatalf("unchanged mtime should keep the cache (-want +got):\n%s", diff)
	}

	writeWhitelist(t, fs.Fs, whitelistPath, "allowed_roots:\n  - /directorium-b\n", time.Unix(2000, 0))
	if diff := cmp.Diff([]string{"/directorium-static", "/directorium-b"}, guard.Roots()); diff != "" {
		t.Fatalf("new mtime should reload (-want +got):\n%s", diff)
	}

	writeWhitelist(t, fs.Fs, whitelistPath, "allowed_roots:\n  - /directorium-c\n", time.Unix(2000, 0))
	guard.Reset()
	if diff := cmp.Diff([]string{"/directorium-static", "/directorium-c"}, guard.Roots()); diff != "" {
		t.Fatalf("reset should force a reload (-want +got):\n%s", diff)
	}
}

func TestWhitelistFileMalformedYieldsNoRoots(t *testing.T) {
	fs := fsops.NewMem()
	writeWhitelist(t, fs.Fs, "/config/whitelist.yaml", "allowed_roots: [unterminated\n", time.Unix(1000, 0))

	guard := pathguard.New(fs, pathguard.WithWhitelistFile("/config/whitelist.yaml"))
	if roots := guard.Roots(); len(roots) != 0 {
		t.Fatalf("expected no roots, got %v", roots)
	}
}

func TestAuthorizeResolvesSymlinks(t *testing.T) {
	baseDir := t.TempDir()
	allowedDir := filepath.Join(baseDir, "allowed")
	outsideDir := filepath.Join(baseDir, "outside")
	for _, dir := range []string{allowedDir, outsideDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	linkPath := filepath.Join(allowedDir, "escape")
	if err := os.Symlink(outsideDir, linkPath); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	guard := pathguard.New(fsops.NewOS(), pathguard.WithRoots(allowedDir))
	if _, err := guard.Authorize(filepath.Join(linkPath, "secret.txt")); !errors.Is(err, pathguard.ErrAccessDenied) {
		t.Fatalf("symlink escape should be denied, got %v", err)
	}
	if _, err := guard.Authorize(filepath.Join(allowedDir, "inside.txt")); err != nil {
		t.Fatalf("inside path should be allowed: %v", err)
	}
}

func writeWhitelist(t *testing.T, fs afero.Fs, path string, contents string, modTime time.Time) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write whitelist: %v", err)
	}
	if err := fs.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

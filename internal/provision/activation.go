package provision

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	condaPrefixVariable         = "CONDA_PREFIX"
	condaDefaultEnvVariable     = "CONDA_DEFAULT_ENV"
	condaPromptModifierVariable = "CONDA_PROMPT_MODIFIER"
	condaShellLevelVariable     = "CONDA_SHLVL"
	pathVariable                = "PATH"
)

var stackedPrefixPattern = regexp.MustCompile(`^CONDA_PREFIX_\d+$`)

// environ is the process environment handed to child commands. Activation state
// lives here because `conda activate` only changes the calling shell.
type environ []string

func (e environ) get(key string) (string, bool) {
	prefix := key + "="
	for _, entry := range e {
		if strings.HasPrefix(entry, prefix) {
			return strings.TrimPrefix(entry, prefix), true
		}
	}
	return "", false
}

func (e environ) set(key, value string) environ {
	out := e.unset(key)
	return append(out, key+"="+value)
}

func (e environ) unset(key string) environ {
	prefix := key + "="
	out := make(environ, 0, len(e))
	for _, entry := range e {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (e environ) clone() environ {
	return append(environ(nil), e...)
}

// deactivated drops every conda activation variable and the bin directories of
// the prefixes they pointed at from PATH.
func (e environ) deactivated() (environ, []string) {
	var prefixes []string
	out := make(environ, 0, len(e))
	for _, entry := range e {
		key, value, _ := strings.Cut(entry, "=")
		switch {
		case key == condaPrefixVariable || stackedPrefixPattern.MatchString(key):
			if strings.TrimSpace(value) != "" {
				prefixes = append(prefixes, value)
			}
			continue
		case key == condaDefaultEnvVariable, key == condaPromptModifierVariable, key == condaShellLevelVariable:
			continue
		}
		out = append(out, entry)
	}
	if len(prefixes) == 0 {
		return out, nil
	}
	if currentPath, ok := out.get(pathVariable); ok {
		out = out.set(pathVariable, removePathEntries(currentPath, binDirectories(prefixes)))
	}
	return out, prefixes
}

// activated points the environment at prefix.
func (e environ) activated(prefix string) environ {
	out := e.set(condaPrefixVariable, prefix)
	out = out.set(condaDefaultEnvVariable, prefix)
	out = out.set(condaShellLevelVariable, "1")
	out = out.set(condaPromptModifierVariable, "("+prefix+") ")
	currentPath, _ := out.get(pathVariable)
	binDirectory := prefixBinDirectory(prefix)
	if currentPath == "" {
		return out.set(pathVariable, binDirectory)
	}
	return out.set(pathVariable, binDirectory+string(os.PathListSeparator)+removePathEntries(currentPath, []string{binDirectory}))
}

func binDirectories(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		out = append(out, prefixBinDirectory(prefix))
	}
	return out
}

func prefixBinDirectory(prefix string) string {
	return filepath.Join(prefix, "bin")
}

func removePathEntries(pathValue string, drop []string) string {
	dropped := make(map[string]struct{}, len(drop))
	for _, entry := range drop {
		dropped[filepath.Clean(entry)] = struct{}{}
	}
	var kept []string
	for _, entry := range filepath.SplitList(pathValue) {
		if entry == "" {
			continue
		}
		if _, skip := dropped[filepath.Clean(entry)]; skip {
			continue
		}
		kept = append(kept, entry)
	}
	return strings.Join(kept, string(os.PathListSeparator))
}

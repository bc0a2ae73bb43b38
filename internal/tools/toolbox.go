// Package tools implements the workspace tools the agent can call. Every tool
// authorizes its paths before touching the filesystem and reports failures as
// strings prefixed with "Error:".
package tools

import (
	"go.uber.org/zap"

	"github.com/temirov/directorium/internal/fsops"
	"github.com/temirov/directorium/internal/pathguard"
)

const (
	DefaultMaxChars = 10000

	// StagedActionPrefix starts the result of every unconfirmed write tool call.
	StagedActionPrefix = "STAGED_ACTION:"
	errorPrefix        = "Error: "
)

// Toolbox carries what the tools share: the path guard, the filesystem and limits.
type Toolbox struct {
	guard    *pathguard.Guard
	fs       fsops.Ops
	maxChars int
	logger   *zap.Logger
}

func NewToolbox(guard *pathguard.Guard, fs fsops.Ops, maxChars int, logger *zap.Logger) *Toolbox {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolbox{guard: guard, fs: fs, maxChars: maxChars, logger: logger}
}

func errorResult(err error) string {
	return errorPrefix + err.Error()
}

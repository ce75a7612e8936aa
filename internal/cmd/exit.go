package cmd

import (
	"context"
	"errors"

	"github.com/Iron-Ham/portaldocs/internal/config"
	"github.com/Iron-Ham/portaldocs/internal/docstore"
)

// Exit codes returned by the portaldocs binary.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitConfig      = 3
	ExitLock        = 4
	ExitDecode      = 5
	ExitWrite       = 6
	ExitNoBackup    = 7
	ExitCheckFailed = 8
	ExitInterrupted = 130
)

// ExitCode maps an error returned by Execute to a process exit code so
// scripts can tell a busy document from a corrupt one.
func ExitCode(err error) int {
	var validation config.ValidationErrors
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &validation), errors.Is(err, docstore.ErrConfiguration):
		return ExitConfig
	case errors.Is(err, docstore.ErrLock):
		return ExitLock
	case errors.Is(err, docstore.ErrDecode):
		return ExitDecode
	case errors.Is(err, docstore.ErrWrite):
		return ExitWrite
	case errors.Is(err, docstore.ErrNoBackup):
		return ExitNoBackup
	case errors.Is(err, errCheckFailed):
		return ExitCheckFailed
	case errors.Is(err, docstore.ErrInvalidName),
		errors.Is(err, docstore.ErrNotObject),
		errors.Is(err, docstore.ErrNotArray):
		return ExitUsage
	}
	return ExitError
}

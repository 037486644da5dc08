package vcs

import (
	"errors"
	"fmt"
)

// Stage identifies which git operation failed, so callers can map a
// failure onto the right cache-level error without parsing messages.
type Stage string

const (
	StageInit       Stage = "init"
	StageLsRemote   Stage = "ls-remote"
	StageFetch      Stage = "fetch"
	StageWorktree   Stage = "worktree-add"
	StageCheckout   Stage = "checkout"
	StagePrune      Stage = "worktree-prune"
	StageSanity     Stage = "sanity-check"
)

// Error wraps a failed git invocation with enough context to classify
// it without re-parsing stderr a second time.
type Error struct {
	Stage      Stage
	Command    []string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vcs: %s %v: %v: %s", e.Stage, e.Command, e.Err, e.StderrTail)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrAuthRequired is returned when git's exit status and stderr indicate
// the remote rejected the request for lack of credentials, rather than
// because the repository doesn't exist.
var ErrAuthRequired = errors.New("vcs: authentication required")

// ErrRepoNotFound is returned when the remote reports the repository
// does not exist (as distinct from an authentication failure).
var ErrRepoNotFound = errors.New("vcs: repository not found")

// ErrNetworkUnavailable is returned when the remote could not be reached
// at all (DNS, connection refused, timeout before any HTTP/SSH exchange).
var ErrNetworkUnavailable = errors.New("vcs: network unavailable")

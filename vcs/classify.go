package vcs

import "strings"

// classify inspects a failed invocation's stderr to distinguish the
// handful of failure modes the cache needs to react to differently, and
// rewrites vcsErr.Err accordingly. git gives no stable machine-readable
// error codes here, so this is necessarily a substring match against
// the messages the common transports (https, ssh) produce.
func classify(vcsErr *Error) *Error {
	lower := strings.ToLower(vcsErr.StderrTail)

	switch {
	case containsAny(lower, "could not resolve host", "network is unreachable", "connection timed out", "could not connect", "temporary failure in name resolution"):
		vcsErr.Err = ErrNetworkUnavailable
	case containsAny(lower, "authentication failed", "permission denied (publickey", "invalid username or password", "terminal prompts disabled", "could not read username"):
		vcsErr.Err = ErrAuthRequired
	case containsAny(lower, "repository not found", "does not appear to be a git repository", "not found"):
		vcsErr.Err = ErrRepoNotFound
	}
	return vcsErr
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

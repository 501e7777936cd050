package vcs

import "errors"

var (
	// ErrDirtyWorkingTree indicates the repository has uncommitted changes
	// and a run must not start.
	ErrDirtyWorkingTree = errors.New("working tree has uncommitted changes")

	// ErrFastForwardFailed indicates main could not be fast-forwarded to the
	// integration result, usually because main moved mid-run.
	ErrFastForwardFailed = errors.New("fast-forward of main failed")

	// ErrInvalidBranchName indicates a generated branch name would not be
	// accepted by git.
	ErrInvalidBranchName = errors.New("invalid branch name")
)

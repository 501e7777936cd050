package vcs

import (
	"fmt"
	"strings"

	"github.com/JamesPaynter/mycelium/internal/paths"
)

// TaskBranchName builds the deterministic branch name for a task:
// <prefix><task-id>-<slug-of-name>. The same inputs always yield the same
// branch, which makes workspace creation idempotent across resumes.
func TaskBranchName(prefix, taskID, taskName string) string {
	name := prefix + paths.Slug(taskID)
	if slug := paths.Slug(taskName); taskName != "" && slug != "task" {
		name += "-" + slug
	}
	return name
}

// ValidateBranchName rejects names git would refuse. This is a conservative
// subset of git-check-ref-format rules; generated names always pass.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidBranchName)
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, "/") ||
		strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") ||
		strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("%w: %q", ErrInvalidBranchName, name)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") ||
		strings.Contains(name, "@{") {
		return fmt.Errorf("%w: %q", ErrInvalidBranchName, name)
	}
	for _, r := range name {
		switch {
		case r <= 0x20 || r == 0x7f:
			return fmt.Errorf("%w: %q contains control or space character", ErrInvalidBranchName, name)
		case strings.ContainsRune("~^:?*[\\", r):
			return fmt.Errorf("%w: %q contains %q", ErrInvalidBranchName, name, r)
		}
	}
	return nil
}

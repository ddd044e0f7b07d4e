package registry

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// gitBranchTimeout bounds the git invocation so a wedged repository never
// hangs a join.
const gitBranchTimeout = 2 * time.Second

// gitBranch returns the current branch of cwd, or "" when cwd is not a git
// repository, git is absent, or the command exceeds the timeout.
func gitBranch(cwd string) string {
	if cwd == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), gitBranchTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

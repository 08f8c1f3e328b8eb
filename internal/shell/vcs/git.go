// Package vcs resolves source revision metadata for deployment records.
package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// HeadRevision returns the current git commit hash of the working directory,
// or "" when it cannot be resolved. Revision metadata is best-effort only;
// callers must never fail a deployment on an empty result.
func HeadRevision(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(out.String())
}

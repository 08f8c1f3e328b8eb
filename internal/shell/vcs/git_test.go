package vcs

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadRevision_OutsideRepositoryIsEmpty(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })

	// A bare temp dir is not a git repository; resolution must degrade to
	// empty rather than fail.
	require.NoError(t, os.Chdir(t.TempDir()))
	assert.Empty(t, HeadRevision(context.Background()))
}

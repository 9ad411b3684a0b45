package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Layout(t *testing.T) {
	root := newRootCommand()

	for _, path := range [][]string{{"serve"}, {"migrate"}, {"alerts", "evaluate"}, {"security", "purge"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	migrate, _, err := root.Find([]string{"migrate"})
	require.NoError(t, err)
	for _, flag := range []string{"sql-dir", "status", "down"} {
		assert.NotNil(t, migrate.Flags().Lookup(flag), "migrate --%s", flag)
	}

	purge, _, err := root.Find([]string{"security", "purge"})
	require.NoError(t, err)
	assert.NotNil(t, purge.Flags().Lookup("older-than"))
}

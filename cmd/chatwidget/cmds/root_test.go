package cmds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandWiresLoggingFlags(t *testing.T) {
	root, err := NewRootCommand()
	require.NoError(t, err)

	for _, name := range []string{"log-level", "log-format", "log-file", "with-caller"} {
		require.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"embed", "chat", "devserver"})
}

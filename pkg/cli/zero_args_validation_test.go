package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroArgCommandsRejectUnexpectedPositionalArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "version", args: []string{"version", "extra"}},
		{name: "commands", args: []string{"commands", "extra"}},
		{name: "explain", args: []string{"explain", "--model", "m.yaml", "--entity", "Customer", "extra"}},
		{name: "query", args: []string{"query", "--model", "m.yaml", "--entity", "Customer", "extra"}},
		{name: "cache", args: []string{"cache", "--model", "m.yaml", "--out", "x", "extra"}},
		{name: "schema print", args: []string{"schema", "print", "--model", "m.yaml", "extra"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := newRootCmd(&globals{})
			cmd.SetArgs(tc.args)
			err := cmd.Execute()
			require.Error(t, err)
			require.Contains(t, err.Error(), "unknown command \"extra\"")
		})
	}
}

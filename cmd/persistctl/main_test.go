package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_RegistersEverySubcommand(t *testing.T) {
	root := newRootCmd()

	want := []string{
		"init", "list", "start", "stop", "restart", "info",
		"delete", "dump", "restore", "logs", "prune", "version", "kill",
	}

	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}

	for _, name := range want {
		require.Contains(t, got, name)
	}
}

func TestParseEnvPairs_SplitsOnFirstEquals(t *testing.T) {
	pairs := parseEnvPairs([]string{"KEY=VALUE", "K2=V=2", "NOEQUALS"})
	require.Len(t, pairs, 2)
	require.Equal(t, "KEY", pairs[0].Key)
	require.Equal(t, "VALUE", pairs[0].Value)
	require.Equal(t, "K2", pairs[1].Key)
	require.Equal(t, "V=2", pairs[1].Value)
}

func TestFiltersOrNil(t *testing.T) {
	require.Nil(t, filtersOrNil(nil))
	require.Nil(t, filtersOrNil([]string{}))

	got := filtersOrNil([]string{"a", "b"})
	require.NotNil(t, got)
	require.Equal(t, []string{"a", "b"}, *got)
}

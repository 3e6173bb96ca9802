package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TXPROP_LOG_LEVEL", "error")
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI(t *testing.T) {
	t.Run("Should join a member", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "shop.db")
		out, err := run(t, "--db", db, "member", "join", "alice", "--outer")
		require.NoError(t, err)
		assert.Equal(t, "member saved: true, log saved: true\n", out)
	})

	t.Run("Should report an unexpected rollback for a recovered log failure", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "shop.db")
		out, err := run(t, "--db", db, "member", "join", "log-failure-bob", "--outer", "--recover")
		require.Error(t, err)
		assert.Equal(t, "member saved: false, log saved: false\n", out)
	})

	t.Run("Should keep the member with a requires-new log", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "shop.db")
		out, err := run(t, "--db", db, "member", "join", "log-failure-carol",
			"--outer", "--recover", "--log-propagation", "requires_new")
		require.NoError(t, err)
		assert.Equal(t, "member saved: true, log saved: false\n", out)
	})

	t.Run("Should keep a waiting order", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "shop.db")
		out, err := run(t, "--db", db, "order", "insufficient")
		require.Error(t, err)
		assert.Equal(t, "order 1: waiting\n", out)
	})

	t.Run("Should reject an unknown propagation", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "shop.db")
		_, err := run(t, "--db", db, "member", "join", "dave", "--log-propagation", "sometimes")
		require.Error(t, err)
	})
}

package cmd

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardanlabs/encloud/app/services/node/handlers"
	"github.com/ardanlabs/encloud/foundation/cloud/journal/storage/sqlite"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// run executes the command line and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return out.String(), err
}

// relay starts a node without any keyring and returns its public url and
// private host.
func relay(t *testing.T) (string, string) {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := state.New(state.Config{Host: "relay", Storage: db, EvHandler: t.Logf})
	require.NoError(t, err)
	t.Cleanup(func() { st.Shutdown() })

	cfg := handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      zap.NewNop().Sugar(),
		State:    st,
		Evts:     events.New(),
	}

	public := httptest.NewServer(handlers.PublicMux(cfg))
	t.Cleanup(public.Close)

	private := httptest.NewServer(handlers.PrivateMux(cfg))
	t.Cleanup(private.Close)

	return public.URL, strings.TrimPrefix(private.URL, "http://")
}

func TestDeviceWorkflow(t *testing.T) {
	dir := t.TempDir()
	url, host := relay(t)

	base := []string{"--cloud-path", dir, "--cloud", "notes", "--url", url}
	with := func(args ...string) []string {
		return append(args, base...)
	}

	out, err := run(t, with("generate", "--description", "shopping list")...)
	require.NoError(t, err)
	assert.Contains(t, out, `cloud "notes" created`)

	_, err = run(t, with("generate")...)
	assert.Error(t, err, "a cloud is never generated twice")

	for _, op := range []string{"add milk", "add eggs"} {
		out, err = run(t, with("append", op)...)
		require.NoError(t, err)
		assert.Contains(t, out, "appended")
	}

	out, err = run(t, with("id")...)
	require.NoError(t, err)
	assert.Contains(t, out, "shopping list")
	assert.Contains(t, out, "length:      2")

	out, err = run(t, with("log")...)
	require.NoError(t, err)
	assert.Contains(t, out, "add milk")
	assert.Contains(t, out, "add eggs")

	out, err = run(t, with("replay")...)
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 2 operations")

	out, err = run(t, with("replay")...)
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 0 operations", "progress is kept between runs")

	out, err = run(t, with("push")...)
	require.NoError(t, err)
	assert.Contains(t, out, "pushed 2 mutations")

	out, err = run(t, with("verify")...)
	require.NoError(t, err)
	assert.Contains(t, out, "2 mutations verify")

	out, err = run(t, with("disclose", "1", "--push")...)
	require.NoError(t, err)
	assert.Contains(t, out, "disclosed: add eggs")
	disclosePush = false

	// A second device holding the same secret catches up through a sync
	// session with the node.
	other := t.TempDir()
	secret, err := os.ReadFile(filepath.Join(dir, "notes.secret"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(other, "notes.secret"), secret, 0600))
	profile, err := os.ReadFile(filepath.Join(dir, "notes.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(other, "notes.yaml"), profile, 0600))

	out, err = run(t, "pull", "--node", host, "--cloud-path", other, "--cloud", "notes", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "accepted 2")

	out, err = run(t, "log", "--cloud-path", other, "--cloud", "notes")
	require.NoError(t, err)
	assert.Contains(t, out, "add eggs")
	assert.Contains(t, out, "(disclosed)")
}

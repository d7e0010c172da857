package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/reactcache/pkg/collate"
	"github.com/go-go-golems/reactcache/pkg/config"
	"github.com/go-go-golems/reactcache/pkg/docstore"
)

const export = `
guild: {id: 1, name: voo}
members:
  - {id: 42, name: Alice}
  - {id: 7, name: bob}
channels:
  - id: 10
    name: general
    messages:
      - id: 100
        author: 7
        created_at: 2020-06-01T12:00:00Z
        reactions:
          - {emoji: "👍", users: [42]}
  - id: 11
    name: spam
    messages:
      - id: 200
        author: 42
        created_at: 2020-07-01T12:00:00Z
        reactions:
          - {emoji: "🔥", users: [7]}
  - id: 12
    name: staff
    readable: false
`

func setup(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "export.yaml")
	require.NoError(t, os.WriteFile(archivePath, []byte(export), 0o644))

	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults(viper.GetViper())
	viper.Set("store.backend", docstore.BackendSQLite)
	viper.Set("store.driver", docstore.DriverModernc)
	viper.Set("store.path", filepath.Join(dir, "cache.db"))
	viper.Set("source.archive", archivePath)
}

func run(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestRescanThenStats(t *testing.T) {
	setup(t)

	out := run(t, NewRescanCommand())
	require.Contains(t, out, "2 succeeded, 1 skipped, 0 failed")

	out = run(t, NewStatsCommand(), "-o", "json", "in:general")
	var st collate.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, map[string]int{"👍": 1}, st.AsMap())

	out = run(t, NewStatsCommand(), "-o", "json", "by:alice")
	st = collate.Stats{}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, map[string]int{"👍": 1}, st.AsMap())

	out = run(t, NewQueryCommand(), "after:2020-06-15")
	require.Contains(t, out, "200\t11\t42")
	require.NotContains(t, out, "100\t10")

	out = run(t, NewDumpCommand())
	require.Contains(t, out, "reacted_messages\t2\n")
	require.Contains(t, out, "members\t2\n")
	require.Contains(t, out, "channels\t2\n")

	out = run(t, NewDumpCommand(), "--table", "channels")
	var docs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 2)
	require.NotEmpty(t, docs[0]["sentinel_datetime"])
}

func TestRescan_ForceSentinelValidation(t *testing.T) {
	setup(t)
	cmd := NewRescanCommand()
	cmd.SetArgs([]string{"--force-sentinel", "yesterday"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.ExecuteContext(context.Background()))

	run(t, NewRescanCommand(), "--force-sentinel", "2020-01-01")
}

func TestRescan_RequiresArchive(t *testing.T) {
	setup(t)
	viper.Set("source.archive", "")
	cmd := NewRescanCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestStats_UnknownChannelFails(t *testing.T) {
	setup(t)
	run(t, NewRescanCommand())
	cmd := NewStatsCommand()
	cmd.SetArgs([]string{"in:nowhere"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestLookupTable(t *testing.T) {
	tbl, ok := lookupTable("messages")
	require.True(t, ok)
	require.Equal(t, docstore.TableMessages, tbl)
	_, ok = lookupTable("users")
	require.False(t, ok)
}

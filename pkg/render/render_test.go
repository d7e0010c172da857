package render

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/reactcache/pkg/cache"
	"github.com/go-go-golems/reactcache/pkg/collate"
	"github.com/go-go-golems/reactcache/pkg/docstore"
	"github.com/go-go-golems/reactcache/pkg/history"
	"github.com/go-go-golems/reactcache/pkg/scan"
)

var stats = collate.Stats{
	Mode:     collate.ModeReaction,
	Messages: 2,
	Entries:  []collate.Entry{{Key: "👍", Count: 3}, {Key: "🔥", Count: 1}},
}

func TestStats_PlainWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	require.False(t, IsTerminal(&buf))
	require.NoError(t, Stats(&buf, stats, FormatTable, 0))
	require.Equal(t, "reaction\tcount\n👍\t3\n🔥\t1\n2 messages, 4 reactions\n", buf.String())

	buf.Reset()
	require.NoError(t, Stats(&buf, stats, FormatTable, 1))
	require.Contains(t, buf.String(), "2 messages, 3 reactions")
	require.NotContains(t, buf.String(), "🔥")
}

func TestStats_Encoded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Stats(&buf, stats, FormatJSON, 0))
	var decoded collate.Stats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, stats, decoded)

	buf.Reset()
	require.NoError(t, Stats(&buf, stats, FormatYAML, 0))
	decoded = collate.Stats{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, stats, decoded)
}

func TestMessages(t *testing.T) {
	msgs := []cache.MessageRecord{{
		ID: 1, AuthorID: 42, ChannelID: 10,
		Timestamp: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		Reactions: map[string][]int64{"👍": {42, 7}, "🎉": {7}},
	}}
	var buf bytes.Buffer
	require.NoError(t, Messages(&buf, msgs, FormatTable))
	require.Equal(t, "id\tchannel\tauthor\tdatetime\treactions\n1\t10\t42\t2020-06-01T00:00:00Z\t👍×2 🎉×1\n", buf.String())

	buf.Reset()
	require.NoError(t, Messages(&buf, msgs, FormatJSON))
	require.Contains(t, buf.String(), `"datetime": "2020-06-01T00:00:00Z"`)
}

func TestOutcome(t *testing.T) {
	s := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	general := history.Channel{ID: 10, Name: "general"}
	flaky := history.Channel{ID: 11, Name: "flaky"}
	out := &scan.Outcome{
		BatchID:   "b1",
		Succeeded: []history.Channel{general},
		Failed:    []scan.Failure{{Channel: flaky, Err: errors.New("reset")}},
		Results: []scan.Result{
			{Channel: general, State: scan.StateDone, Observed: 3, Reacted: 1, Sentinel: &s},
			{Channel: flaky, State: scan.StateFailed, Err: errors.New("reset")},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Outcome(&buf, out))
	require.Contains(t, buf.String(), "general\tdone\t3\t1\t2020-06-01T00:00:00Z\t\n")
	require.Contains(t, buf.String(), "flaky\tfailed\t0\t0\t\treset\n")
	require.Contains(t, buf.String(), "batch b1: 1 succeeded, 0 skipped, 1 failed")
	require.NoError(t, Outcome(&buf, nil))
}

func TestDocumentsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Documents(&buf, nil, FormatTable))
	require.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, Counts(&buf, map[docstore.Table]int{docstore.TableMessages: 4}))
	require.Equal(t, "table\trows\nchannels\t0\nreacted_messages\t4\nmembers\t0\nemoji\t0\n", buf.String())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, f)
	_, err = ParseFormat("csv")
	require.Error(t, err)
}

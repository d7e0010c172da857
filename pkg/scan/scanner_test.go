package scan

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/reactcache/pkg/cache"
	"github.com/go-go-golems/reactcache/pkg/docstore"
	"github.com/go-go-golems/reactcache/pkg/history"
	"github.com/go-go-golems/reactcache/pkg/sentinel"
)

var t0 = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

var general = history.Channel{ID: 10, Name: "general", GuildID: 1}

func thumbs(users ...int64) history.Reaction {
	return history.Reaction{Emoji: history.Standard("👍"), Users: users}
}

func msg(id int64, at time.Time, reactions ...history.Reaction) history.Message {
	return history.Message{ID: id, AuthorID: 42, CreatedAt: at, Reactions: reactions}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New(docstore.NewInMemoryStore())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func messages(t *testing.T, c *cache.Cache) map[int64]cache.MessageRecord {
	t.Helper()
	recs, err := c.SearchMessages(context.Background(), docstore.All())
	require.NoError(t, err)
	out := map[int64]cache.MessageRecord{}
	for _, r := range recs {
		out[r.ID] = r
	}
	return out
}

func TestScan_RecordsReactedMessagesOnly(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	src := newFakeSource()
	src.addChannel(general,
		msg(100, t0, thumbs(42, 7)),
		msg(101, t0.Add(time.Hour)),
		msg(102, t0.Add(2*time.Hour), history.Reaction{Emoji: history.Emoji{ID: 555, Name: "pog", Custom: true}, Users: []int64{7}}),
	)

	s := NewScanner(c, src, WithTracker(sentinel.NewTracker(3, 48*time.Hour)))
	res := s.Scan(ctx, general)
	require.Equal(t, StateDone, res.State)
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Observed)
	require.Equal(t, 2, res.Reacted)
	require.Nil(t, res.PreviousSentinel)

	got := messages(t, c)
	require.Len(t, got, 2)
	require.Equal(t, map[string][]int64{"👍": {7, 42}}, got[100].Reactions)
	require.Equal(t, map[string][]int64{"<:pog:555>": {7}}, got[102].Reactions)
	require.Equal(t, int64(10), got[100].ChannelID)

	emoji, err := c.Emoji(ctx)
	require.NoError(t, err)
	require.Len(t, emoji, 2)

	rec, ok, err := c.GetChannel(ctx, general.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "general", rec.Name)
	require.NotNil(t, rec.Sentinel)
	// min(oldest of last 3, newest - 48h)
	require.Equal(t, t0.Add(2*time.Hour).Add(-48*time.Hour), *rec.Sentinel)
	require.Equal(t, rec.Sentinel, res.Sentinel)
}

func TestScan_SkipsWithoutPermission(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	src := newFakeSource()
	fc := src.addChannel(general, msg(100, t0, thumbs(1)))
	fc.denied = true

	res := NewScanner(c, src).Scan(ctx, general)
	require.Equal(t, StateSkipped, res.State)
	require.NoError(t, res.Err)
	require.Empty(t, messages(t, c))
	_, ok, err := c.GetChannel(ctx, general.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, src.aftersFor(general.ID), "history fetched for a denied channel")
}

func TestScan_ReactionsAreOverwritten(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	src := newFakeSource()
	src.addChannel(general, msg(100, t0, thumbs(42, 7)), msg(101, t0.Add(time.Hour)))

	s := NewScanner(c, src, WithTracker(sentinel.NewTracker(3, 7*24*time.Hour)))
	require.Equal(t, StateDone, s.Scan(ctx, general).State)

	// 7 removes their reaction, 9 adds a new one
	src.setReactions(general.ID, 100, thumbs(42), history.Reaction{Emoji: history.Standard("🎉"), Users: []int64{9}})
	res := s.Scan(ctx, general)
	require.Equal(t, StateDone, res.State)
	require.Equal(t, 2, res.Observed, "messages inside the lookback are fetched again")

	got := messages(t, c)
	require.Len(t, got, 1)
	require.Equal(t, map[string][]int64{"👍": {42}, "🎉": {9}}, got[100].Reactions)
}

func TestScan_PartialFailureIsResumable(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	src := newFakeSource()
	fc := src.addChannel(general,
		msg(100, t0, thumbs(1)),
		msg(101, t0.Add(time.Hour), thumbs(2)),
		msg(102, t0.Add(2*time.Hour), thumbs(3)),
	)
	fc.failAfter = 1

	s := NewScanner(c, src)
	res := s.Scan(ctx, general)
	require.Equal(t, StateFailed, res.State)
	require.Error(t, res.Err)
	require.Equal(t, 1, res.Observed)
	require.Nil(t, res.Sentinel)

	// earlier writes survive, the sentinel did not move
	got := messages(t, c)
	require.Len(t, got, 1)
	require.Contains(t, got, int64(100))
	_, ok, err := c.GetChannel(ctx, general.ID)
	require.NoError(t, err)
	require.False(t, ok)

	src.mu.Lock()
	fc.failAfter = -1
	src.mu.Unlock()
	res = s.Scan(ctx, general)
	require.Equal(t, StateDone, res.State)
	require.Len(t, messages(t, c), 3)

	afters := src.aftersFor(general.ID)
	require.Len(t, afters, 2)
	require.Nil(t, afters[0])
	require.Nil(t, afters[1], "retry must restart from the old sentinel")
}

func TestScan_SentinelNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	src := newFakeSource()
	src.addChannel(general, msg(100, t0, thumbs(1)), msg(101, t0.Add(10*24*time.Hour), thumbs(2)))

	tracker := sentinel.NewTracker(1, 0)
	res := NewScanner(c, src, WithTracker(tracker)).Scan(ctx, general)
	require.Equal(t, StateDone, res.State)
	first := *res.Sentinel
	require.Equal(t, t0.Add(10*24*time.Hour), first)

	// a forced rescan of old history computes an earlier value; the stored one wins
	forced := NewScanner(c, src, WithTracker(sentinel.NewTracker(1, 20*24*time.Hour)), WithForceSentinel(t0.Add(-time.Hour)))
	res = forced.Scan(ctx, general)
	require.Equal(t, StateDone, res.State)
	require.Equal(t, 2, res.Observed)
	require.Equal(t, first, *res.PreviousSentinel)
	require.Equal(t, first, *res.Sentinel)

	afters := src.aftersFor(general.ID)
	require.Equal(t, t0.Add(-time.Hour), *afters[1])

	rec, _, err := c.GetChannel(ctx, general.ID)
	require.NoError(t, err)
	require.Equal(t, first, *rec.Sentinel)
}

func TestScan_EmptyPassKeepsSentinel(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	src := newFakeSource()
	src.addChannel(general)

	res := NewScanner(c, src).Scan(ctx, general)
	require.Equal(t, StateDone, res.State)
	require.Nil(t, res.Sentinel)

	rec, ok, err := c.GetChannel(ctx, general.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, rec.Sentinel)

	s := t0
	require.NoError(t, c.UpsertChannel(ctx, cache.ChannelRecord{ID: general.ID, Name: "general", Sentinel: &s}))
	res = NewScanner(c, src).Scan(ctx, general)
	require.Equal(t, StateDone, res.State)
	rec, _, err = c.GetChannel(ctx, general.ID)
	require.NoError(t, err)
	require.Equal(t, t0, *rec.Sentinel)
}

func TestScan_CancelledContextFails(t *testing.T) {
	c := newTestCache(t)
	src := newFakeSource()
	src.addChannel(general, msg(100, t0, thumbs(1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewScanner(c, src).Scan(ctx, general)
	require.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestScan_JSONStoreIsPersistedWhenPassEnds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	store, err := docstore.NewJSONFileStore(path)
	require.NoError(t, err)
	c := cache.New(store)
	t.Cleanup(func() { _ = c.Close() })

	src := newFakeSource()
	var msgs []history.Message
	for i := int64(0); i < 30; i++ {
		msgs = append(msgs, msg(100+i, t0.Add(time.Duration(i)*time.Hour), thumbs(i)))
	}
	src.addChannel(general, msgs...)

	res := NewScanner(c, src).Scan(ctx, general)
	require.Equal(t, StateDone, res.State)
	require.Equal(t, 30, res.Reacted)

	onDisk, err := docstore.NewJSONFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = onDisk.Close() })
	n, err := onDisk.Count(ctx, docstore.TableMessages)
	require.NoError(t, err)
	require.Equal(t, 30, n)
	rec, found, err := cache.New(onDisk).GetChannel(ctx, general.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, res.Sentinel)
	require.NotNil(t, rec.Sentinel)
	require.True(t, res.Sentinel.Equal(*rec.Sentinel))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "done", StateDone.String())
	require.Equal(t, "skipped", StateSkipped.String())
	require.Equal(t, "failed", StateFailed.String())
	require.Equal(t, "unknown", State(9).String())
}

package query

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/reactcache/pkg/cache"
	"github.com/go-go-golems/reactcache/pkg/docstore"
)

func seed(t *testing.T) *cache.Cache {
	t.Helper()
	ctx := context.Background()
	c := cache.New(docstore.NewInMemoryStore())
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.UpsertChannel(ctx, cache.ChannelRecord{ID: 10, Name: "general", GuildID: 1}))
	require.NoError(t, c.UpsertChannel(ctx, cache.ChannelRecord{ID: 11, Name: "spam", GuildID: 1}))
	require.NoError(t, c.UpsertChannel(ctx, cache.ChannelRecord{ID: 12, Name: "dupe", GuildID: 1}))
	require.NoError(t, c.UpsertChannel(ctx, cache.ChannelRecord{ID: 13, Name: "dupe", GuildID: 2}))
	_, err := c.UpsertMembers(ctx, []cache.MemberRecord{
		{ID: 42, Name: "Alice", Nick: "ally", GuildID: 1},
		{ID: 7, Name: "bob", GuildID: 1},
		{ID: 8, Name: "Alicia", GuildID: 2},
	})
	require.NoError(t, err)

	require.NoError(t, c.UpsertMessage(ctx, cache.MessageRecord{
		ID: 1, AuthorID: 7, ChannelID: 10,
		Timestamp: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		Reactions: map[string][]int64{"👍": {42}},
	}))
	require.NoError(t, c.UpsertMessage(ctx, cache.MessageRecord{
		ID: 2, AuthorID: 42, ChannelID: 11,
		Timestamp: time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC),
		Reactions: map[string][]int64{"🔥": {7}},
	}))
	require.NoError(t, c.UpsertMessage(ctx, cache.MessageRecord{
		ID: 3, AuthorID: 8, ChannelID: 11,
		Timestamp: time.Date(2020, 6, 15, 9, 0, 0, 0, time.UTC),
		Reactions: map[string][]int64{"<:pog:555>": {8, 7}},
	}))
	return c
}

func ids(t *testing.T, e *Engine, directives ...string) []int64 {
	t.Helper()
	msgs, err := e.Search(context.Background(), directives)
	require.NoError(t, err)
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestParseDirective(t *testing.T) {
	d, err := ParseDirective(" in: general , spam ,")
	require.NoError(t, err)
	require.Equal(t, Directive{Command: CommandIn, Values: []string{"general", "spam"}}, d)
	require.Equal(t, "in:general,spam", d.String())

	d, err = ParseDirective("react:<:pog:555>")
	require.NoError(t, err)
	require.Equal(t, []string{"<:pog:555>"}, d.Values)

	for _, bad := range []string{"general", "where:x", "in:", "in: , ", "IN:general", "Before:2020-01-01"} {
		_, err := ParseDirective(bad)
		require.ErrorIs(t, err, ErrMalformedDirective, bad)
	}
}

func TestSearch_CommandsAreCaseSensitive(t *testing.T) {
	e := NewEngine(seed(t), 0)
	require.Equal(t, ids(t, e), ids(t, e, "IN:general"), "an upper-case command is skipped")
	require.Equal(t, []int64{1}, ids(t, e, "IN:general", "in:general"))
}

func TestSearch_Scenario(t *testing.T) {
	e := NewEngine(seed(t), 0)
	require.Equal(t, []int64{1}, ids(t, e, "in:general"))
	require.Equal(t, []int64{2, 3}, ids(t, e, "after:2020-06-15"))
	require.Equal(t, []int64{1}, ids(t, e, "by:Alice", "in:general"))
	require.Equal(t, []int64{1, 3}, ids(t, e, "before:2020-07-01"))
}

func TestSearch_EmptyMatchesEverything(t *testing.T) {
	e := NewEngine(seed(t), 0)
	require.Equal(t, []int64{1, 2, 3}, ids(t, e))
	require.Equal(t, []int64{1, 2, 3}, ids(t, e, "nonsense", "bogus:1", "after:June"))
}

func TestSearch_OrWithinAndAcross(t *testing.T) {
	e := NewEngine(seed(t), 0)

	union := map[int64]bool{}
	for _, id := range append(ids(t, e, "in:general"), ids(t, e, "in:spam")...) {
		union[id] = true
	}
	both := ids(t, e, "in:general,spam")
	require.Len(t, both, len(union))
	for _, id := range both {
		require.True(t, union[id])
	}

	inSpam := ids(t, e, "in:spam")
	after := ids(t, e, "after:2020-06-20")
	var want []int64
	for _, a := range inSpam {
		for _, b := range after {
			if a == b {
				want = append(want, a)
			}
		}
	}
	require.Equal(t, want, ids(t, e, "in:spam", "after:2020-06-20"))
	require.Equal(t, []int64{2}, want)
}

func TestSearch_Members(t *testing.T) {
	c := seed(t)
	e := NewEngine(c, 0)

	// "ali" hits Alice and Alicia; ambiguity is OR-ed
	require.Equal(t, []int64{1, 3}, ids(t, e, "by:ali"))
	require.Equal(t, []int64{1}, ids(t, e, "by:ALLY"))
	require.Equal(t, []int64{2, 3}, ids(t, e, "msgby:ali"))
	require.Equal(t, []int64{1, 2}, ids(t, e, "msgby:bob,ally"))
	require.Empty(t, ids(t, e, "by:nobody"))

	scoped := NewEngine(c, 1)
	require.Equal(t, []int64{1}, ids(t, scoped, "by:ali"))
}

func TestSearch_Reactions(t *testing.T) {
	e := NewEngine(seed(t), 0)
	require.Equal(t, []int64{3}, ids(t, e, "react:pog"))
	require.Equal(t, []int64{1, 2}, ids(t, e, "react:👍,🔥"))
	require.Empty(t, ids(t, e, "react:zzz"))
}

func TestSearch_DatesAreStrict(t *testing.T) {
	e := NewEngine(seed(t), 0)
	require.Equal(t, []int64{2, 3}, ids(t, e, "after:2020-06-01"))
	require.Empty(t, ids(t, e, "before:2020-06-01"))
}

func TestSearch_ChannelLookupErrors(t *testing.T) {
	e := NewEngine(seed(t), 0)
	ctx := context.Background()

	_, err := e.Search(ctx, []string{"in:nowhere"})
	require.ErrorIs(t, err, ErrChannelNotFound)
	var le *LookupError
	require.True(t, errors.As(err, &le))
	require.Equal(t, "nowhere", le.Name)

	_, err = e.Search(ctx, []string{"in:dupe"})
	require.ErrorIs(t, err, ErrAmbiguousChannel)
	require.True(t, errors.As(err, &le))
	require.Equal(t, 2, le.Candidates)

	// names are case-sensitive
	_, err = e.Search(ctx, []string{"in:General"})
	require.ErrorIs(t, err, ErrChannelNotFound)

	require.Equal(t, []int64{1}, ids(t, e, "in:#general"))
}

func TestBuild_PredicateShape(t *testing.T) {
	e := NewEngine(seed(t), 0)
	p, err := e.Build(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, docstore.OpAll, p.Op())

	p, err = e.Build(context.Background(), []string{"by:nobody"})
	require.NoError(t, err)
	require.Equal(t, docstore.OpNone, p.Op())
}

package collate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/reactcache/pkg/cache"
)

var (
	m1 = cache.MessageRecord{ID: 1, AuthorID: 7, Reactions: map[string][]int64{"👍": {42}}}
	m2 = cache.MessageRecord{ID: 2, AuthorID: 42, Reactions: map[string][]int64{"🔥": {7}, "👍": {7, 9}}}
	m3 = cache.MessageRecord{ID: 3, AuthorID: 42, Reactions: map[string][]int64{"<:pog:555>": {8}, "🎉": {}}}
)

func TestCollate_Single(t *testing.T) {
	st := Collate([]cache.MessageRecord{m1})
	require.Equal(t, map[string]int{"👍": 1}, st.AsMap())
	require.Equal(t, ModeReaction, st.Mode)
	require.Equal(t, 1, st.Messages)
}

func TestCollate_SortedByCountThenKey(t *testing.T) {
	st := Collate([]cache.MessageRecord{m1, m2, m3})
	require.Equal(t, []Entry{
		{Key: "👍", Count: 3},
		{Key: "<:pog:555>", Count: 1},
		{Key: "🔥", Count: 1},
	}, st.Entries)
	require.Equal(t, 5, st.Total())
	require.Equal(t, []Entry{{Key: "👍", Count: 3}}, st.Top(1))
	require.Len(t, st.Top(0), 3)
	require.Len(t, st.Top(10), 3)
}

func TestCollateBy_Modes(t *testing.T) {
	msgs := []cache.MessageRecord{m1, m2, m3}
	require.Equal(t, map[string]int{"42": 1, "7": 2, "9": 1, "8": 1}, CollateBy(ModeReactor, msgs).AsMap())
	require.Equal(t, map[string]int{"7": 1, "42": 4}, CollateBy(ModeAuthor, msgs).AsMap())
}

func TestCollate_Empty(t *testing.T) {
	st := Collate(nil)
	require.Empty(t, st.Entries)
	require.Equal(t, 0, st.Total())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeReaction, m)
	m, err = ParseMode("author")
	require.NoError(t, err)
	require.Equal(t, ModeAuthor, m)
	_, err = ParseMode("emoji")
	require.Error(t, err)
}

// Package collate reduces matched messages to reaction statistics.
//
// Filtering is message-level: a message that matched contributes every one of its
// reactions to the tally, not only the one that caused the match.
package collate

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/go-go-golems/reactcache/pkg/cache"
)

type Mode string

const (
	// ModeReaction counts reactors per reaction key.
	ModeReaction Mode = "reaction"
	// ModeReactor counts reactions applied per reactor id.
	ModeReactor Mode = "reactor"
	// ModeAuthor counts reactions received per message author id.
	ModeAuthor Mode = "author"
)

var Modes = []Mode{ModeReaction, ModeReactor, ModeAuthor}

func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeReaction, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", errors.Errorf("collate: unknown mode %q", s)
}

type Entry struct {
	Key   string `json:"key" yaml:"key"`
	Count int    `json:"count" yaml:"count"`
}

type Stats struct {
	Mode     Mode    `json:"mode" yaml:"mode"`
	Messages int     `json:"messages" yaml:"messages"`
	Entries  []Entry `json:"entries" yaml:"entries"`
}

// Collate tallies reactors per reaction key.
func Collate(msgs []cache.MessageRecord) Stats {
	return CollateBy(ModeReaction, msgs)
}

func CollateBy(mode Mode, msgs []cache.MessageRecord) Stats {
	counts := map[string]int{}
	for _, m := range msgs {
		for key, users := range m.Reactions {
			switch mode {
			case ModeReactor:
				for _, u := range users {
					counts[strconv.FormatInt(u, 10)]++
				}
			case ModeAuthor:
				if len(users) > 0 {
					counts[strconv.FormatInt(m.AuthorID, 10)] += len(users)
				}
			default:
				if len(users) > 0 {
					counts[key] += len(users)
				}
			}
		}
	}
	if mode == "" {
		mode = ModeReaction
	}
	st := Stats{Mode: mode, Messages: len(msgs), Entries: make([]Entry, 0, len(counts))}
	for k, n := range counts {
		st.Entries = append(st.Entries, Entry{Key: k, Count: n})
	}
	sort.Slice(st.Entries, func(i, j int) bool {
		a, b := st.Entries[i], st.Entries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Key < b.Key
	})
	return st
}

func (s Stats) Total() int {
	n := 0
	for _, e := range s.Entries {
		n += e.Count
	}
	return n
}

// Top returns at most n entries; n <= 0 returns all of them.
func (s Stats) Top(n int) []Entry {
	if n <= 0 || n >= len(s.Entries) {
		return s.Entries
	}
	return s.Entries[:n]
}

func (s Stats) AsMap() map[string]int {
	out := make(map[string]int, len(s.Entries))
	for _, e := range s.Entries {
		out[e.Key] = e.Count
	}
	return out
}

// Package query turns `command:value` directives into docstore predicates over the
// reacted message table.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reactcache/pkg/cache"
	"github.com/go-go-golems/reactcache/pkg/docstore"
)

// DateLayout is the accepted format of before/after values, read as UTC midnight.
const DateLayout = "2006-01-02"

type Engine struct {
	cache *cache.Cache
	// guildID restricts member lookups; 0 matches every workspace.
	guildID int64
}

func NewEngine(c *cache.Cache, guildID int64) *Engine {
	return &Engine{cache: c, guildID: guildID}
}

// Search returns the messages matching every directive, in insertion order.
func (e *Engine) Search(ctx context.Context, directives []string) ([]cache.MessageRecord, error) {
	pred, err := e.Build(ctx, directives)
	if err != nil {
		return nil, err
	}
	log.Debug().Stringer("predicate", pred).Msg("searching messages")
	return e.cache.SearchMessages(ctx, pred)
}

// Build AND-s the predicates of all usable directives. Malformed directives and values
// are skipped with a warning; channel lookup failures are returned as *LookupError.
func (e *Engine) Build(ctx context.Context, directives []string) (docstore.Predicate, error) {
	parts := make([]docstore.Predicate, 0, len(directives))
	for _, raw := range directives {
		d, err := ParseDirective(raw)
		if err != nil {
			log.Warn().Err(err).Str("directive", raw).Msg("skipping directive")
			continue
		}
		p, ok, err := e.directive(ctx, d)
		if err != nil {
			return docstore.Predicate{}, err
		}
		if !ok {
			continue
		}
		parts = append(parts, p)
	}
	return docstore.And(parts...), nil
}

func (e *Engine) directive(ctx context.Context, d Directive) (docstore.Predicate, bool, error) {
	switch d.Command {
	case CommandIn:
		ids := make([]any, 0, len(d.Values))
		for _, name := range d.Values {
			id, err := e.channelID(ctx, name)
			if err != nil {
				return docstore.Predicate{}, false, err
			}
			ids = append(ids, id)
		}
		return docstore.In(cache.FieldChannel, ids...), true, nil

	case CommandBy, CommandMsgBy:
		ids, err := e.memberIDs(ctx, d.Values)
		if err != nil {
			return docstore.Predicate{}, false, err
		}
		if len(ids) == 0 {
			log.Debug().Stringer("directive", d).Msg("no member matched")
			return docstore.None(), true, nil
		}
		if d.Command == CommandMsgBy {
			vs := make([]any, 0, len(ids))
			for id := range ids {
				vs = append(vs, id)
			}
			return docstore.In(cache.FieldAuthor, vs...), true, nil
		}
		return docstore.Test(cache.FieldReacts, "reacted by "+d.String(), reactedBy(ids)), true, nil

	case CommandReact:
		ps := make([]docstore.Predicate, 0, len(d.Values))
		for _, v := range d.Values {
			ps = append(ps, docstore.Test(cache.FieldReacts, "reaction contains "+v, reactionContains(v)))
		}
		return docstore.Or(ps...), true, nil

	case CommandBefore, CommandAfter:
		ps := make([]docstore.Predicate, 0, len(d.Values))
		for _, v := range d.Values {
			day, err := time.Parse(DateLayout, v)
			if err != nil {
				log.Warn().Err(err).Stringer("directive", d).Msg("skipping directive with malformed date")
				return docstore.Predicate{}, false, nil
			}
			ps = append(ps, dateBound(d.Command, day.UTC()))
		}
		return docstore.Or(ps...), true, nil
	}
	log.Warn().Stringer("directive", d).Msg("skipping unknown directive")
	return docstore.Predicate{}, false, nil
}

func (e *Engine) channelID(ctx context.Context, name string) (int64, error) {
	name = strings.TrimPrefix(name, "#")
	channels, err := e.cache.ChannelsByName(ctx, name)
	if err != nil {
		return 0, errors.Wrap(err, "query: resolve channel")
	}
	if len(channels) != 1 {
		return 0, &LookupError{Kind: "channel", Name: name, Candidates: len(channels)}
	}
	return channels[0].ID, nil
}

func (e *Engine) memberIDs(ctx context.Context, needles []string) (map[int64]struct{}, error) {
	ids := map[int64]struct{}{}
	for _, needle := range needles {
		members, err := e.cache.MembersByName(ctx, needle, e.guildID)
		if err != nil {
			return nil, errors.Wrap(err, "query: resolve member")
		}
		for _, m := range members {
			ids[m.ID] = struct{}{}
		}
	}
	return ids, nil
}

func reactedBy(ids map[int64]struct{}) docstore.TestFunc {
	return func(v any) bool {
		reacts, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for _, users := range reacts {
			list, _ := users.([]any)
			for _, u := range list {
				if id, ok := asInt64(u); ok {
					if _, hit := ids[id]; hit {
						return true
					}
				}
			}
		}
		return false
	}
}

func reactionContains(needle string) docstore.TestFunc {
	return func(v any) bool {
		reacts, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for key := range reacts {
			if strings.Contains(key, needle) {
				return true
			}
		}
		return false
	}
}

func dateBound(cmd Command, day time.Time) docstore.Predicate {
	op := "<"
	if cmd == CommandAfter {
		op = ">"
	}
	return docstore.Test(cache.FieldDatetime, op+" "+day.Format(DateLayout), func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		ts, err := cache.ParseTime(s)
		if err != nil {
			return false
		}
		if cmd == CommandAfter {
			return ts.After(day)
		}
		return ts.Before(day)
	})
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}

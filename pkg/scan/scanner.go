// Package scan refreshes the cache from channel history, one channel per Scanner pass
// and many channels per Coordinator batch.
package scan

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reactcache/pkg/cache"
	"github.com/go-go-golems/reactcache/pkg/history"
	"github.com/go-go-golems/reactcache/pkg/sentinel"
)

// State is the terminal state of a channel pass.
type State int

const (
	StateDone State = iota
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Result describes one channel pass.
type Result struct {
	Channel history.Channel
	State   State
	// Observed counts every message fetched; Reacted those written to the cache.
	Observed         int
	Reacted          int
	PreviousSentinel *time.Time
	// Sentinel is the value written at the end of the pass, nil when it was left alone.
	Sentinel *time.Time
	Elapsed  time.Duration
	Err      error
}

type Scanner struct {
	cache         *cache.Cache
	source        history.Source
	tracker       sentinel.Tracker
	forceSentinel *time.Time
}

type Option func(*Scanner)

// WithForceSentinel fetches history after t instead of after the stored sentinel.
func WithForceSentinel(t time.Time) Option {
	return func(s *Scanner) {
		t = t.UTC()
		s.forceSentinel = &t
	}
}

func WithTracker(t sentinel.Tracker) Option {
	return func(s *Scanner) {
		s.tracker = t
	}
}

func NewScanner(c *cache.Cache, source history.Source, opts ...Option) *Scanner {
	s := &Scanner{
		cache:   c,
		source:  source,
		tracker: sentinel.NewTracker(sentinel.DefaultLookbackCount, sentinel.DefaultLookbackDuration),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan refreshes one channel. Writes made before a failure are kept; the sentinel only
// moves at the end of a complete pass.
func (s *Scanner) Scan(ctx context.Context, ch history.Channel) Result {
	start := time.Now()
	res := Result{Channel: ch}
	logger := log.With().Int64("channel_id", ch.ID).Str("channel", ch.Name).Logger()

	finish := func(state State, err error) Result {
		res.State = state
		res.Err = err
		res.Elapsed = time.Since(start)
		ev := logger.Info()
		if state == StateFailed {
			ev = logger.Warn().Err(err)
		}
		ev.Str("state", state.String()).
			Int("observed", res.Observed).
			Int("reacted", res.Reacted).
			Dur("elapsed", res.Elapsed).
			Msg("channel scan finished")
		return res
	}

	if s == nil || s.cache == nil || s.source == nil {
		return finish(StateFailed, errors.New("scan: scanner is not configured"))
	}

	ok, err := s.source.CanReadHistory(ctx, ch)
	if err != nil {
		return finish(StateFailed, errors.Wrap(err, "scan: check permissions"))
	}
	if !ok {
		logger.Warn().Msg("missing read-history permission, skipping channel")
		return finish(StateSkipped, nil)
	}

	stored, found, err := s.cache.GetChannel(ctx, ch.ID)
	if err != nil {
		return finish(StateFailed, err)
	}
	if found {
		res.PreviousSentinel = stored.Sentinel
	}
	after := res.PreviousSentinel
	if s.forceSentinel != nil {
		after = s.forceSentinel
	}
	logger.Info().Interface("after", after).Msg("channel scan started")

	var state State
	err = s.cache.Batch(ctx, func(ctx context.Context) error {
		var perr error
		state, perr = s.pass(ctx, ch, after, &res)
		return perr
	})
	if err != nil {
		state = StateFailed
	}
	if state == StateSkipped {
		logger.Warn().Msg("history denied, skipping channel")
	}
	return finish(state, err)
}

// pass fetches history after after, records reacted messages and refreshes the
// channel record once the history is exhausted.
func (s *Scanner) pass(ctx context.Context, ch history.Channel, after *time.Time, res *Result) (State, error) {
	window := s.tracker.NewWindow()
	for msg, err := range s.source.History(ctx, ch, after) {
		if err != nil {
			if errors.Is(err, history.ErrNoPermission) && res.Observed == 0 {
				return StateSkipped, nil
			}
			return StateFailed, errors.Wrap(err, "scan: fetch history")
		}
		res.Observed++
		window.Push(msg.CreatedAt.UTC())
		if len(msg.Reactions) == 0 {
			continue
		}
		if err := s.record(ctx, ch, msg); err != nil {
			return StateFailed, err
		}
		res.Reacted++
	}

	rec := cache.ChannelRecord{ID: ch.ID, Name: ch.Name, GuildID: ch.GuildID}
	if next, ok := s.tracker.Next(window); ok {
		next = sentinel.Clamp(res.PreviousSentinel, next)
		rec.Sentinel = &next
	}
	if err := s.cache.UpsertChannel(ctx, rec); err != nil {
		return StateFailed, err
	}
	res.Sentinel = rec.Sentinel
	return StateDone, nil
}

func (s *Scanner) record(ctx context.Context, ch history.Channel, msg history.Message) error {
	if msg.ChannelID == 0 {
		msg.ChannelID = ch.ID
	}
	for _, r := range msg.Reactions {
		if r.Emoji.OverLong() {
			log.Warn().Str("emoji", r.Emoji.Name).Int64("message_id", msg.ID).Msg("emoji symbol too long to pack, keyed by hash")
		}
	}
	rec, emoji := cache.MessageFromHistory(msg)
	for _, e := range emoji {
		if err := s.cache.UpsertEmoji(ctx, e); err != nil {
			return err
		}
	}
	if err := s.cache.UpsertMessage(ctx, rec); err != nil {
		return err
	}
	log.Trace().Int64("message_id", rec.ID).Int("reactions", rec.ReactionCount()).Msg("recorded message")
	return nil
}

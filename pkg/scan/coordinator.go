package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/reactcache/pkg/cache"
	"github.com/go-go-golems/reactcache/pkg/history"
	"github.com/go-go-golems/reactcache/pkg/progress"
)

// Failure is a channel whose pass ended in StateFailed.
type Failure struct {
	Channel history.Channel
	Err     error
}

// Outcome summarizes a batch. A failed channel never aborts the others.
type Outcome struct {
	BatchID   string
	Succeeded []history.Channel
	Skipped   []history.Channel
	Failed    []Failure
	Results   []Result
	Elapsed   time.Duration
}

// Err joins the failures, nil when every channel succeeded or was skipped.
func (o *Outcome) Err() error {
	if o == nil || len(o.Failed) == 0 {
		return nil
	}
	if len(o.Failed) == 1 {
		return errors.Wrapf(o.Failed[0].Err, "scan: channel %s", o.Failed[0].Channel)
	}
	return errors.Errorf("scan: %d channels failed, first %s: %v", len(o.Failed), o.Failed[0].Channel, o.Failed[0].Err)
}

type Coordinator struct {
	scanner     *Scanner
	cache       *cache.Cache
	members     history.MembershipSource
	channels    history.ChannelLister
	reporter    progress.Reporter
	concurrency int
	heartbeat   time.Duration
}

type CoordinatorOption func(*Coordinator)

func WithMembershipSource(m history.MembershipSource) CoordinatorOption {
	return func(c *Coordinator) { c.members = m }
}

func WithChannelLister(l history.ChannelLister) CoordinatorOption {
	return func(c *Coordinator) { c.channels = l }
}

func WithReporter(r progress.Reporter) CoordinatorOption {
	return func(c *Coordinator) { c.reporter = r }
}

// WithConcurrency bounds the number of channels scanned at once; 0 means unbounded.
func WithConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) { c.concurrency = n }
}

func WithHeartbeat(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.heartbeat = d }
}

func NewCoordinator(scanner *Scanner, c *cache.Cache, opts ...CoordinatorOption) *Coordinator {
	co := &Coordinator{scanner: scanner, cache: c, reporter: progress.Nop}
	for _, o := range opts {
		o(co)
	}
	if co.reporter == nil {
		co.reporter = progress.Nop
	}
	return co
}

// RefreshAll scans every channel concurrently and waits for all of them.
func (c *Coordinator) RefreshAll(ctx context.Context, channels []history.Channel) *Outcome {
	start := time.Now()
	out := &Outcome{BatchID: uuid.NewString()}
	tracker := progress.Track(ctx, c.reporter, out.BatchID, len(channels), c.heartbeat)
	defer func() { tracker.Close(ctx, out.Err()) }()

	log.Info().Str("batch_id", out.BatchID).Int("channels", len(channels)).Msg("refreshing channels")

	results := make([]Result, len(channels))
	var mu sync.Mutex
	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, ch := range channels {
		g.Go(func() error {
			r := c.scanner.Scan(ctx, ch)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			tracker.ChannelFinished(ctx, ch.ID, ch.Name, r.State.String(), r.Observed, r.Err)
			return nil
		})
	}
	_ = g.Wait()

	out.Results = results
	for _, r := range results {
		switch r.State {
		case StateDone:
			out.Succeeded = append(out.Succeeded, r.Channel)
		case StateSkipped:
			out.Skipped = append(out.Skipped, r.Channel)
		default:
			out.Failed = append(out.Failed, Failure{Channel: r.Channel, Err: r.Err})
		}
	}
	out.Elapsed = time.Since(start)
	log.Info().
		Str("batch_id", out.BatchID).
		Int("succeeded", len(out.Succeeded)).
		Int("skipped", len(out.Skipped)).
		Int("failed", len(out.Failed)).
		Dur("elapsed", out.Elapsed).
		Msg("refresh finished")
	return out
}

// RefreshMembers upserts the current members of guildID. Members who left are kept.
func (c *Coordinator) RefreshMembers(ctx context.Context, guildID int64) (int, error) {
	if c.members == nil {
		return 0, errors.New("scan: no membership source")
	}
	members, err := c.members.Members(ctx, guildID)
	if err != nil {
		return 0, errors.Wrap(err, "scan: list members")
	}
	recs := make([]cache.MemberRecord, 0, len(members))
	for _, m := range members {
		recs = append(recs, cache.MemberFromHistory(m))
	}
	n, err := c.cache.UpsertMembers(ctx, recs)
	if err != nil {
		return n, err
	}
	log.Info().Int64("guild_id", guildID).Int("members", n).Msg("members refreshed")
	return n, nil
}

// Rescan refreshes members, then every channel of guildID.
func (c *Coordinator) Rescan(ctx context.Context, guildID int64) (*Outcome, error) {
	if c.channels == nil {
		return nil, errors.New("scan: no channel lister")
	}
	if c.members != nil {
		if _, err := c.RefreshMembers(ctx, guildID); err != nil {
			return nil, err
		}
	}
	channels, err := c.channels.Channels(ctx, guildID)
	if err != nil {
		return nil, errors.Wrap(err, "scan: list channels")
	}
	return c.RefreshAll(ctx, channels), nil
}

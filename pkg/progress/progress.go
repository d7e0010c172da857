// Package progress reports the advance of a scan batch to logs, watermill topics and
// websocket clients.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindBatchStarted    Kind = "batch-started"
	KindChannelFinished Kind = "channel-finished"
	KindHeartbeat       Kind = "heartbeat"
	KindBatchFinished   Kind = "batch-finished"
)

type Event struct {
	UUID        string    `json:"uuid"`
	BatchID     string    `json:"batch_id"`
	Kind        Kind      `json:"kind"`
	ChannelID   int64     `json:"channel_id,omitempty"`
	ChannelName string    `json:"channel_name,omitempty"`
	State       string    `json:"state,omitempty"`
	Observed    int       `json:"observed,omitempty"`
	Error       string    `json:"error,omitempty"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	Time        time.Time `json:"time"`
}

// Reporter receives progress events. Implementations must not block the caller for long.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

type ReporterFunc func(ctx context.Context, ev Event)

func (f ReporterFunc) Report(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop drops every event.
var Nop Reporter = ReporterFunc(func(context.Context, Event) {})

// LogReporter writes events to the global zerolog logger.
type LogReporter struct{}

func (LogReporter) Report(_ context.Context, ev Event) {
	e := log.Info()
	switch ev.Kind {
	case KindHeartbeat:
		e = log.Debug()
	case KindChannelFinished:
		if ev.Error != "" {
			e = log.Warn().Str("error", ev.Error)
		}
	}
	e.Str("batch_id", ev.BatchID).
		Str("kind", string(ev.Kind)).
		Int("completed", ev.Completed).
		Int("total", ev.Total)
	if ev.ChannelID != 0 {
		e.Int64("channel_id", ev.ChannelID).Str("channel", ev.ChannelName).Str("state", ev.State).Int("observed", ev.Observed)
	}
	e.Msg("scan progress")
}

// PublisherReporter publishes events as JSON watermill messages on Topic.
type PublisherReporter struct {
	Publisher message.Publisher
	Topic     string
}

func NewPublisherReporter(pub message.Publisher, topic string) *PublisherReporter {
	return &PublisherReporter{Publisher: pub, Topic: topic}
}

func (r *PublisherReporter) Report(_ context.Context, ev Event) {
	if r == nil || r.Publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("progress: marshal event")
		return
	}
	msg := message.NewMessage(ev.UUID, payload)
	msg.Metadata.Set("kind", string(ev.Kind))
	msg.Metadata.Set("batch_id", ev.BatchID)
	if err := r.Publisher.Publish(r.Topic, msg); err != nil {
		log.Warn().Err(err).Str("topic", r.Topic).Msg("progress: publish event")
	}
}

// Decode parses an event published by PublisherReporter.
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, errors.Wrap(err, "progress: decode event")
	}
	return ev, nil
}

// Multi fans an event out to every non-nil reporter.
func Multi(reporters ...Reporter) Reporter {
	var rs []Reporter
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return ReporterFunc(func(ctx context.Context, ev Event) {
		for _, r := range rs {
			r.Report(ctx, ev)
		}
	})
}

// Tracker is the scoped progress handle of one batch. Close must be called on every
// path; it is idempotent.
type Tracker struct {
	reporter Reporter
	batchID  string
	total    int

	mu        sync.Mutex
	completed int
	closed    bool

	stop chan struct{}
	done chan struct{}
}

// Track announces a batch and, when heartbeat > 0, reports a heartbeat at that interval
// until Close.
func Track(ctx context.Context, reporter Reporter, batchID string, total int, heartbeat time.Duration) *Tracker {
	if reporter == nil {
		reporter = Nop
	}
	t := &Tracker{
		reporter: reporter,
		batchID:  batchID,
		total:    total,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.emit(ctx, Event{Kind: KindBatchStarted})
	if heartbeat <= 0 {
		close(t.done)
		return t
	}
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.emit(ctx, Event{Kind: KindHeartbeat})
			}
		}
	}()
	return t
}

func (t *Tracker) BatchID() string { return t.batchID }

// Completed returns how many channels have finished so far.
func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// ChannelFinished records one finished channel. Calls after Close are ignored.
func (t *Tracker) ChannelFinished(ctx context.Context, channelID int64, name, state string, observed int, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.completed++
	t.mu.Unlock()

	ev := Event{
		Kind:        KindChannelFinished,
		ChannelID:   channelID,
		ChannelName: name,
		State:       state,
		Observed:    observed,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	t.emit(ctx, ev)
}

// Close stops the heartbeat and reports the end of the batch.
func (t *Tracker) Close(ctx context.Context, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stop)
	<-t.done

	ev := Event{Kind: KindBatchFinished}
	if err != nil {
		ev.Error = err.Error()
	}
	t.emit(context.WithoutCancel(ctx), ev)
}

func (t *Tracker) emit(ctx context.Context, ev Event) {
	ev.UUID = uuid.NewString()
	ev.BatchID = t.batchID
	ev.Total = t.total
	ev.Completed = t.Completed()
	ev.Time = time.Now().UTC()
	t.reporter.Report(ctx, ev)
}

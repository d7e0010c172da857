package scan

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/reactcache/pkg/history"
)

type fakeChannel struct {
	channel  history.Channel
	denied   bool
	messages []history.Message
	// failAfter makes History fail once that many messages were yielded; -1 disables it.
	failAfter int
	// blockAfter makes History wait for cancellation once that many messages were
	// yielded; -1 disables it.
	blockAfter int
}

type fakeSource struct {
	mu       sync.Mutex
	channels map[int64]*fakeChannel
	order    []int64
	members  []history.Member
	afters   map[int64][]*time.Time
	inflight int
	maxSeen  int
	delay    time.Duration
	// blocked receives a channel id each time History starts waiting on blockAfter.
	blocked chan int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{channels: map[int64]*fakeChannel{}, afters: map[int64][]*time.Time{}}
}

func (f *fakeSource) addChannel(ch history.Channel, msgs ...history.Message) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range msgs {
		msgs[i].ChannelID = ch.ID
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	fc := &fakeChannel{channel: ch, messages: msgs, failAfter: -1, blockAfter: -1}
	f.channels[ch.ID] = fc
	f.order = append(f.order, ch.ID)
	return fc
}

func (f *fakeSource) addMessages(id int64, msgs ...history.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc := f.channels[id]
	for _, m := range msgs {
		m.ChannelID = id
		fc.messages = append(fc.messages, m)
	}
	sort.SliceStable(fc.messages, func(i, j int) bool { return fc.messages[i].CreatedAt.Before(fc.messages[j].CreatedAt) })
}

func (f *fakeSource) setReactions(channelID, messageID int64, reactions ...history.Reaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.channels[channelID].messages {
		if m.ID == messageID {
			f.channels[channelID].messages[i].Reactions = reactions
		}
	}
}

func (f *fakeSource) CanReadHistory(_ context.Context, ch history.Channel) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc, ok := f.channels[ch.ID]
	if !ok {
		return false, errors.Errorf("unknown channel %d", ch.ID)
	}
	return !fc.denied, nil
}

func (f *fakeSource) History(ctx context.Context, ch history.Channel, after *time.Time) iter.Seq2[history.Message, error] {
	return func(yield func(history.Message, error) bool) {
		f.mu.Lock()
		fc := f.channels[ch.ID]
		msgs := append([]history.Message(nil), fc.messages...)
		failAfter := fc.failAfter
		blockAfter := fc.blockAfter
		blocked := f.blocked
		f.afters[ch.ID] = append(f.afters[ch.ID], after)
		f.inflight++
		if f.inflight > f.maxSeen {
			f.maxSeen = f.inflight
		}
		delay := f.delay
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			f.inflight--
			f.mu.Unlock()
		}()

		if delay > 0 {
			time.Sleep(delay)
		}
		yielded := 0
		for _, m := range msgs {
			if after != nil && !m.CreatedAt.After(*after) {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(history.Message{}, err)
				return
			}
			if blockAfter >= 0 && yielded == blockAfter {
				if blocked != nil {
					blocked <- ch.ID
				}
				<-ctx.Done()
				yield(history.Message{}, ctx.Err())
				return
			}
			if failAfter >= 0 && yielded == failAfter {
				yield(history.Message{}, errors.New("connection reset"))
				return
			}
			if !yield(m, nil) {
				return
			}
			yielded++
		}
	}
}

func (f *fakeSource) Members(_ context.Context, guildID int64) ([]history.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []history.Member
	for _, m := range f.members {
		if guildID == 0 || m.GuildID == guildID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) Channels(_ context.Context, guildID int64) ([]history.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []history.Channel
	for _, id := range f.order {
		ch := f.channels[id].channel
		if guildID == 0 || ch.GuildID == guildID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeSource) aftersFor(id int64) []*time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*time.Time(nil), f.afters[id]...)
}

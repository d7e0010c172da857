// Package archive serves channel history from a workspace export file (YAML or JSON).
//
// The export looks like:
//
//	guild: {id: 1, name: voo}
//	members:
//	  - {id: 42, name: Alice, nick: al}
//	channels:
//	  - id: 10
//	    name: general
//	    readable: true
//	    messages:
//	      - id: 100
//	        author: 42
//	        created_at: 2020-06-01T12:00:00Z
//	        reactions:
//	          - {emoji: "👍", users: [42]}
//	          - {emoji: {id: 555, name: pog, url: "https://..."}, users: [7]}
package archive

import (
	"context"
	"io"
	"iter"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/reactcache/pkg/history"
)

const DefaultPageSize = 100

type Guild struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

type file struct {
	Guild    Guild            `yaml:"guild"`
	Members  []history.Member `yaml:"members"`
	Channels []channelEntry   `yaml:"channels"`
}

type channelEntry struct {
	ID       int64          `yaml:"id"`
	Name     string         `yaml:"name"`
	GuildID  int64          `yaml:"guild_id"`
	Readable *bool          `yaml:"readable"`
	Messages []messageEntry `yaml:"messages"`
}

type messageEntry struct {
	ID        int64           `yaml:"id"`
	AuthorID  int64           `yaml:"author"`
	CreatedAt time.Time       `yaml:"created_at"`
	Reactions []reactionEntry `yaml:"reactions"`
}

type reactionEntry struct {
	Emoji emojiEntry `yaml:"emoji"`
	Users []int64    `yaml:"users"`
}

// emojiEntry accepts either a bare symbol ("👍") or a custom emoji mapping.
type emojiEntry struct {
	history.Emoji
}

func (e *emojiEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Emoji = history.Standard(node.Value)
		return nil
	}
	var custom struct {
		ID        int64      `yaml:"id"`
		Name      string     `yaml:"name"`
		Animated  bool       `yaml:"animated"`
		URL       string     `yaml:"url"`
		CreatedAt *time.Time `yaml:"created_at"`
	}
	if err := node.Decode(&custom); err != nil {
		return err
	}
	if custom.ID == 0 {
		return errors.Errorf("archive: custom emoji %q has no id (line %d)", custom.Name, node.Line)
	}
	e.Emoji = history.Emoji{
		ID:        custom.ID,
		Name:      custom.Name,
		Custom:    true,
		Animated:  custom.Animated,
		URL:       custom.URL,
		CreatedAt: custom.CreatedAt,
	}
	return nil
}

type channelState struct {
	channel  history.Channel
	readable bool
	messages []history.Message
}

// Source implements history.Source, history.MembershipSource and history.ChannelLister
// on top of an export file. Reload swaps the contents atomically.
type Source struct {
	PageSize int

	mu       sync.RWMutex
	guild    Guild
	members  []history.Member
	channels []*channelState
	byID     map[int64]*channelState
}

var (
	_ history.Source           = &Source{}
	_ history.MembershipSource = &Source{}
	_ history.ChannelLister    = &Source{}
)

// Load reads an export file.
func Load(path string) (*Source, error) {
	s := &Source{PageSize: DefaultPageSize}
	if err := s.Reload(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse reads an export from r.
func Parse(r io.Reader) (*Source, error) {
	s := &Source{PageSize: DefaultPageSize}
	if err := s.decode(r); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the export at path, replacing the current contents.
func (s *Source) Reload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "archive: open")
	}
	defer func() { _ = f.Close() }()
	return s.decode(f)
}

func (s *Source) decode(r io.Reader) error {
	var raw file
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			raw = file{}
		} else {
			return errors.Wrap(err, "archive: decode")
		}
	}

	members := make([]history.Member, 0, len(raw.Members))
	for _, m := range raw.Members {
		if m.GuildID == 0 {
			m.GuildID = raw.Guild.ID
		}
		members = append(members, m)
	}

	channels := make([]*channelState, 0, len(raw.Channels))
	byID := make(map[int64]*channelState, len(raw.Channels))
	for _, c := range raw.Channels {
		if _, dup := byID[c.ID]; dup {
			return errors.Errorf("archive: duplicate channel id %d", c.ID)
		}
		st := &channelState{
			channel:  history.Channel{ID: c.ID, Name: c.Name, GuildID: c.GuildID},
			readable: c.Readable == nil || *c.Readable,
		}
		if st.channel.GuildID == 0 {
			st.channel.GuildID = raw.Guild.ID
		}
		for _, m := range c.Messages {
			msg := history.Message{
				ID:        m.ID,
				AuthorID:  m.AuthorID,
				ChannelID: c.ID,
				CreatedAt: m.CreatedAt.UTC(),
			}
			for _, r := range m.Reactions {
				msg.Reactions = append(msg.Reactions, history.Reaction{Emoji: r.Emoji.Emoji, Users: r.Users})
			}
			st.messages = append(st.messages, msg)
		}
		sort.SliceStable(st.messages, func(i, j int) bool {
			return st.messages[i].CreatedAt.Before(st.messages[j].CreatedAt)
		})
		channels = append(channels, st)
		byID[c.ID] = st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.guild = raw.Guild
	s.members = members
	s.channels = channels
	s.byID = byID
	return nil
}

// Guild returns the exported workspace.
func (s *Source) Guild() Guild {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guild
}

func (s *Source) Members(_ context.Context, guildID int64) ([]history.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]history.Member, 0, len(s.members))
	for _, m := range s.members {
		if guildID == 0 || m.GuildID == guildID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Source) Channels(_ context.Context, guildID int64) ([]history.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]history.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		if guildID == 0 || c.channel.GuildID == guildID {
			out = append(out, c.channel)
		}
	}
	return out, nil
}

func (s *Source) CanReadHistory(_ context.Context, ch history.Channel) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[ch.ID]
	if !ok {
		return false, errors.Errorf("archive: unknown channel %d", ch.ID)
	}
	return st.readable, nil
}

func (s *Source) History(ctx context.Context, ch history.Channel, after *time.Time) iter.Seq2[history.Message, error] {
	return func(yield func(history.Message, error) bool) {
		s.mu.RLock()
		st, ok := s.byID[ch.ID]
		var messages []history.Message
		if ok {
			messages = st.messages
		}
		readable := ok && st.readable
		s.mu.RUnlock()

		if !ok {
			yield(history.Message{}, errors.Errorf("archive: unknown channel %d", ch.ID))
			return
		}
		if !readable {
			yield(history.Message{}, history.ErrNoPermission)
			return
		}

		start := 0
		if after != nil {
			start = sort.Search(len(messages), func(i int) bool {
				return messages[i].CreatedAt.After(*after)
			})
		}
		pageSize := s.PageSize
		if pageSize <= 0 {
			pageSize = DefaultPageSize
		}
		for i := start; i < len(messages); i++ {
			if (i-start)%pageSize == 0 {
				if err := ctx.Err(); err != nil {
					yield(history.Message{}, err)
					return
				}
			}
			if !yield(messages[i], nil) {
				return
			}
		}
	}
}

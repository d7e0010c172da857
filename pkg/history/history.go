// Package history describes the chat platform as seen by the cache: channels, members,
// and the lazily paginated message history with its reactions.
package history

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/pkg/errors"
)

// ErrNoPermission signals that the caller may not read a channel's history.
var ErrNoPermission = errors.New("history: missing read-history permission")

type Channel struct {
	ID      int64  `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	GuildID int64  `json:"guild_id" yaml:"guild_id"`
}

func (c Channel) String() string {
	return fmt.Sprintf("#%s (%d)", c.Name, c.ID)
}

type Member struct {
	ID            int64  `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Nick          string `json:"nick,omitempty" yaml:"nick,omitempty"`
	Discriminator string `json:"discriminator,omitempty" yaml:"discriminator,omitempty"`
	GuildID       int64  `json:"guild_id" yaml:"guild_id"`
}

type Reaction struct {
	Emoji Emoji   `json:"emoji" yaml:"emoji"`
	Users []int64 `json:"users" yaml:"users"`
}

type Message struct {
	ID        int64      `json:"id" yaml:"id"`
	AuthorID  int64      `json:"author" yaml:"author"`
	ChannelID int64      `json:"channel" yaml:"channel"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	Reactions []Reaction `json:"reactions,omitempty" yaml:"reactions,omitempty"`
}

// Source yields channel history.
type Source interface {
	// CanReadHistory reports whether History may be called for ch.
	CanReadHistory(ctx context.Context, ch Channel) (bool, error)
	// History yields the messages of ch created strictly after `after` (all of them
	// when nil), oldest first. The sequence is lazy; iterating it again restarts the fetch.
	// A non-nil error ends the sequence.
	History(ctx context.Context, ch Channel, after *time.Time) iter.Seq2[Message, error]
}

// MembershipSource lists the current members of a workspace.
type MembershipSource interface {
	Members(ctx context.Context, guildID int64) ([]Member, error)
}

// ChannelLister lists the text channels of a workspace.
type ChannelLister interface {
	Channels(ctx context.Context, guildID int64) ([]Channel, error)
}

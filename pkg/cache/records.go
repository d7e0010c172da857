// Package cache maps the typed reaction records onto docstore documents.
package cache

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/reactcache/pkg/docstore"
	"github.com/go-go-golems/reactcache/pkg/history"
)

// Persisted field names.
const (
	FieldID       = docstore.KeyField
	FieldName     = "name"
	FieldGuild    = "guild"
	FieldSentinel = "sentinel_datetime"

	FieldAuthor   = "author"
	FieldChannel  = "channel"
	FieldDatetime = "datetime"
	FieldReacts   = "reacts"

	FieldCustom    = "custom"
	FieldURL       = "url"
	FieldMarkup    = "discord_str"
	FieldCreatedAt = "created_at"

	FieldNick          = "nick"
	FieldDiscriminator = "discriminator"
)

// TimeLayout is used for every persisted timestamp.
const TimeLayout = time.RFC3339Nano

type ChannelRecord struct {
	ID      int64
	Name    string
	GuildID int64
	// Sentinel is nil until the channel has been scanned with at least one message.
	Sentinel *time.Time
}

// MessageRecord is a message seen with at least one reaction.
// Reactions maps the textual reaction key to the ascending set of reactor ids.
type MessageRecord struct {
	ID        int64
	AuthorID  int64
	ChannelID int64
	Timestamp time.Time
	Reactions map[string][]int64
}

type EmojiRecord struct {
	ID        int64
	Name      string
	Custom    bool
	URL       string
	Markup    string
	CreatedAt *time.Time
}

type MemberRecord struct {
	ID            int64
	Name          string
	Nick          string
	Discriminator string
	GuildID       int64
}

// FormatTime renders t the way it is persisted.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a persisted timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "cache: parse time %q", s)
	}
	return t.UTC(), nil
}

// ToDocument omits the sentinel when it is nil so an upsert leaves the stored one alone.
func (r ChannelRecord) ToDocument() docstore.Document {
	doc := docstore.Document{
		FieldID:    r.ID,
		FieldName:  r.Name,
		FieldGuild: r.GuildID,
	}
	if r.Sentinel != nil {
		doc[FieldSentinel] = FormatTime(*r.Sentinel)
	}
	return doc
}

func ChannelFromDocument(doc docstore.Document) (ChannelRecord, error) {
	id, ok := intField(doc, FieldID)
	if !ok {
		return ChannelRecord{}, errors.New("cache: channel document has no id")
	}
	r := ChannelRecord{ID: id, Name: stringField(doc, FieldName)}
	r.GuildID, _ = intField(doc, FieldGuild)
	if s := stringField(doc, FieldSentinel); s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return ChannelRecord{}, err
		}
		r.Sentinel = &t
	}
	return r, nil
}

func (r MessageRecord) ToDocument() docstore.Document {
	reacts := make(map[string]any, len(r.Reactions))
	for key, users := range r.Reactions {
		ids := normalizeReactors(users)
		list := make([]any, len(ids))
		for i, id := range ids {
			list[i] = id
		}
		reacts[key] = list
	}
	return docstore.Document{
		FieldID:       r.ID,
		FieldAuthor:   r.AuthorID,
		FieldChannel:  r.ChannelID,
		FieldDatetime: FormatTime(r.Timestamp),
		FieldReacts:   reacts,
	}
}

func MessageFromDocument(doc docstore.Document) (MessageRecord, error) {
	id, ok := intField(doc, FieldID)
	if !ok {
		return MessageRecord{}, errors.New("cache: message document has no id")
	}
	r := MessageRecord{ID: id, Reactions: map[string][]int64{}}
	r.AuthorID, _ = intField(doc, FieldAuthor)
	r.ChannelID, _ = intField(doc, FieldChannel)
	if s := stringField(doc, FieldDatetime); s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return MessageRecord{}, err
		}
		r.Timestamp = t
	}
	reacts, _ := doc[FieldReacts].(map[string]any)
	for key, raw := range reacts {
		list, _ := raw.([]any)
		users := make([]int64, 0, len(list))
		for _, v := range list {
			if uid, ok := asInt64(v); ok {
				users = append(users, uid)
			}
		}
		r.Reactions[key] = users
	}
	return r, nil
}

// ReactionCount sums reactors over every reaction key.
func (r MessageRecord) ReactionCount() int {
	n := 0
	for _, users := range r.Reactions {
		n += len(users)
	}
	return n
}

func (r EmojiRecord) ToDocument() docstore.Document {
	doc := docstore.Document{
		FieldID:     r.ID,
		FieldName:   r.Name,
		FieldCustom: r.Custom,
		FieldURL:    r.URL,
		FieldMarkup: r.Markup,
	}
	if r.CreatedAt != nil {
		doc[FieldCreatedAt] = FormatTime(*r.CreatedAt)
	}
	return doc
}

func EmojiFromDocument(doc docstore.Document) (EmojiRecord, error) {
	id, ok := intField(doc, FieldID)
	if !ok {
		return EmojiRecord{}, errors.New("cache: emoji document has no id")
	}
	r := EmojiRecord{
		ID:     id,
		Name:   stringField(doc, FieldName),
		URL:    stringField(doc, FieldURL),
		Markup: stringField(doc, FieldMarkup),
	}
	r.Custom, _ = doc[FieldCustom].(bool)
	if s := stringField(doc, FieldCreatedAt); s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return EmojiRecord{}, err
		}
		r.CreatedAt = &t
	}
	return r, nil
}

func (r MemberRecord) ToDocument() docstore.Document {
	return docstore.Document{
		FieldID:            r.ID,
		FieldName:          r.Name,
		FieldNick:          r.Nick,
		FieldDiscriminator: r.Discriminator,
		FieldGuild:         r.GuildID,
	}
}

func MemberFromDocument(doc docstore.Document) (MemberRecord, error) {
	id, ok := intField(doc, FieldID)
	if !ok {
		return MemberRecord{}, errors.New("cache: member document has no id")
	}
	r := MemberRecord{
		ID:            id,
		Name:          stringField(doc, FieldName),
		Nick:          stringField(doc, FieldNick),
		Discriminator: stringField(doc, FieldDiscriminator),
	}
	r.GuildID, _ = intField(doc, FieldGuild)
	return r, nil
}

// MessageFromHistory converts an observed message into its record and the emoji it uses.
func MessageFromHistory(m history.Message) (MessageRecord, []EmojiRecord) {
	rec := MessageRecord{
		ID:        m.ID,
		AuthorID:  m.AuthorID,
		ChannelID: m.ChannelID,
		Timestamp: m.CreatedAt.UTC(),
		Reactions: make(map[string][]int64, len(m.Reactions)),
	}
	emoji := make([]EmojiRecord, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		key := r.Emoji.String()
		rec.Reactions[key] = normalizeReactors(append(rec.Reactions[key], r.Users...))
		emoji = append(emoji, EmojiFromHistory(r.Emoji))
	}
	return rec, emoji
}

func EmojiFromHistory(e history.Emoji) EmojiRecord {
	return EmojiRecord{
		ID:        e.Key(),
		Name:      e.Name,
		Custom:    e.Custom,
		URL:       e.URL,
		Markup:    e.String(),
		CreatedAt: e.CreatedAt,
	}
}

func MemberFromHistory(m history.Member) MemberRecord {
	return MemberRecord{
		ID:            m.ID,
		Name:          m.Name,
		Nick:          m.Nick,
		Discriminator: m.Discriminator,
		GuildID:       m.GuildID,
	}
}

func normalizeReactors(users []int64) []int64 {
	out := append([]int64(nil), users...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

func intField(doc docstore.Document, field string) (int64, bool) {
	return asInt64(doc[field])
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), x == float64(int64(x))
	}
	return 0, false
}

func stringField(doc docstore.Document, field string) string {
	s, _ := doc[field].(string)
	return s
}

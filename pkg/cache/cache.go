package cache

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reactcache/pkg/docstore"
)

// Cache is the typed view over a docstore.Store used by the scanner and the query engine.
type Cache struct {
	store docstore.Store
}

func New(store docstore.Store) *Cache {
	return &Cache{store: store}
}

func (c *Cache) Store() docstore.Store {
	if c == nil {
		return nil
	}
	return c.store
}

func (c *Cache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Batch runs fn with persistence of its writes deferred where the store supports it.
func (c *Cache) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.check(); err != nil {
		return err
	}
	return docstore.Batch(ctx, c.store, fn)
}

func (c *Cache) check() error {
	if c == nil || c.store == nil {
		return errors.New("cache: nil store")
	}
	return nil
}

func byID(id int64) docstore.Predicate {
	return docstore.Eq(FieldID, id)
}

func (c *Cache) GetChannel(ctx context.Context, id int64) (ChannelRecord, bool, error) {
	if err := c.check(); err != nil {
		return ChannelRecord{}, false, err
	}
	docs, err := c.store.Search(ctx, docstore.TableChannels, byID(id))
	if err != nil {
		return ChannelRecord{}, false, errors.Wrap(err, "cache: get channel")
	}
	if len(docs) == 0 {
		return ChannelRecord{}, false, nil
	}
	rec, err := ChannelFromDocument(docs[0])
	if err != nil {
		return ChannelRecord{}, false, err
	}
	return rec, true, nil
}

// UpsertChannel writes id, name and guild; the stored sentinel is only replaced when
// rec.Sentinel is set.
func (c *Cache) UpsertChannel(ctx context.Context, rec ChannelRecord) error {
	if err := c.check(); err != nil {
		return err
	}
	return errors.Wrap(c.store.Upsert(ctx, docstore.TableChannels, rec.ToDocument(), byID(rec.ID)), "cache: upsert channel")
}

func (c *Cache) UpsertEmoji(ctx context.Context, rec EmojiRecord) error {
	if err := c.check(); err != nil {
		return err
	}
	return errors.Wrap(c.store.Upsert(ctx, docstore.TableEmoji, rec.ToDocument(), byID(rec.ID)), "cache: upsert emoji")
}

// UpsertMessage replaces the stored reactions of the message with rec.Reactions.
func (c *Cache) UpsertMessage(ctx context.Context, rec MessageRecord) error {
	if err := c.check(); err != nil {
		return err
	}
	return errors.Wrap(c.store.Upsert(ctx, docstore.TableMessages, rec.ToDocument(), byID(rec.ID)), "cache: upsert message")
}

// UpsertMembers writes every member; members absent from recs are kept.
func (c *Cache) UpsertMembers(ctx context.Context, recs []MemberRecord) (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := c.store.Upsert(ctx, docstore.TableMembers, rec.ToDocument(), byID(rec.ID)); err != nil {
			return i, errors.Wrapf(err, "cache: upsert member %d", rec.ID)
		}
	}
	return len(recs), nil
}

func (c *Cache) Channels(ctx context.Context) ([]ChannelRecord, error) {
	return c.searchChannels(ctx, docstore.All())
}

// ChannelsByName returns every channel whose name is exactly name.
func (c *Cache) ChannelsByName(ctx context.Context, name string) ([]ChannelRecord, error) {
	return c.searchChannels(ctx, docstore.Eq(FieldName, name))
}

func (c *Cache) searchChannels(ctx context.Context, where docstore.Predicate) ([]ChannelRecord, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	docs, err := c.store.Search(ctx, docstore.TableChannels, where)
	if err != nil {
		return nil, errors.Wrap(err, "cache: search channels")
	}
	out := make([]ChannelRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := ChannelFromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Cache) Members(ctx context.Context) ([]MemberRecord, error) {
	return c.searchMembers(ctx, docstore.All())
}

// MembersByName matches needle case-insensitively as a substring of the member's name
// or nickname. guildID 0 matches every workspace.
func (c *Cache) MembersByName(ctx context.Context, needle string, guildID int64) ([]MemberRecord, error) {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return nil, nil
	}
	contains := func(v any) bool {
		s, ok := v.(string)
		return ok && strings.Contains(strings.ToLower(s), needle)
	}
	where := docstore.Or(
		docstore.Test(FieldName, "icontains "+needle, contains),
		docstore.Test(FieldNick, "icontains "+needle, contains),
	)
	if guildID != 0 {
		where = docstore.And(where, docstore.Eq(FieldGuild, guildID))
	}
	return c.searchMembers(ctx, where)
}

func (c *Cache) searchMembers(ctx context.Context, where docstore.Predicate) ([]MemberRecord, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	docs, err := c.store.Search(ctx, docstore.TableMembers, where)
	if err != nil {
		return nil, errors.Wrap(err, "cache: search members")
	}
	out := make([]MemberRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := MemberFromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Cache) Emoji(ctx context.Context) ([]EmojiRecord, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	docs, err := c.store.Search(ctx, docstore.TableEmoji, docstore.All())
	if err != nil {
		return nil, errors.Wrap(err, "cache: search emoji")
	}
	out := make([]EmojiRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := EmojiFromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SearchMessages returns the reacted messages matching where, in insertion order.
// Rows that no longer decode are skipped with a warning.
func (c *Cache) SearchMessages(ctx context.Context, where docstore.Predicate) ([]MessageRecord, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	docs, err := c.store.Search(ctx, docstore.TableMessages, where)
	if err != nil {
		return nil, errors.Wrap(err, "cache: search messages")
	}
	out := make([]MessageRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := MessageFromDocument(doc)
		if err != nil {
			log.Warn().Err(err).Msg("skipping undecodable message row")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Counts reports the number of rows in every table.
func (c *Cache) Counts(ctx context.Context) (map[docstore.Table]int, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	out := make(map[docstore.Table]int, len(docstore.Tables))
	for _, table := range docstore.Tables {
		n, err := c.store.Count(ctx, table)
		if err != nil {
			return nil, errors.Wrapf(err, "cache: count %s", table)
		}
		out[table] = n
	}
	return out, nil
}

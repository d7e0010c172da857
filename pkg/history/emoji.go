package history

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Emoji is the symbol of a reaction: either a standard unicode symbol (Name holds the
// symbol itself) or a custom workspace emoji with a platform-assigned ID.
type Emoji struct {
	ID        int64      `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string     `json:"name" yaml:"name"`
	Custom    bool       `json:"custom,omitempty" yaml:"custom,omitempty"`
	Animated  bool       `json:"animated,omitempty" yaml:"animated,omitempty"`
	URL       string     `json:"url,omitempty" yaml:"url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Standard builds a unicode emoji.
func Standard(symbol string) Emoji {
	return Emoji{Name: symbol}
}

// String returns the textual reaction key: the raw symbol, or <:name:id> markup.
func (e Emoji) String() string {
	if !e.Custom {
		return e.Name
	}
	if e.Animated {
		return fmt.Sprintf("<a:%s:%d>", e.Name, e.ID)
	}
	return fmt.Sprintf("<:%s:%d>", e.Name, e.ID)
}

// Key returns the cache id of the emoji. Custom emoji use their platform id; standard
// emoji use PackSymbol.
func (e Emoji) Key() int64 {
	if e.Custom {
		return e.ID
	}
	return PackSymbol(e.Name)
}

// OverLong reports standard symbols too long to pack into lanes; their key is a hash.
func (e Emoji) OverLong() bool {
	return !e.Custom && !packable([]rune(e.Name))
}

// HashedKeyFlag marks keys derived from a hash of the symbol. Packed keys stay below 2^37
// and never carry it.
const HashedKeyFlag int64 = 1 << 62

// PackSymbol returns the id of a standard symbol. A single rune, or two runes whose first
// fits in 16 bits, is packed losslessly: each rune is ORed into the accumulator walking
// from the last rune to the first, shifting 16 bits between runes. Any other symbol maps
// to HashedKeyFlag | xxhash(symbol) truncated to 62 bits.
func PackSymbol(symbol string) int64 {
	runes := []rune(symbol)
	if !packable(runes) {
		return HashedKeyFlag | int64(xxhash.Sum64String(symbol)&uint64(HashedKeyFlag-1))
	}
	var id uint64
	for i := len(runes) - 1; i >= 0; i-- {
		id |= uint64(runes[i])
		if i > 0 {
			id <<= 16
		}
	}
	return int64(id)
}

// packable reports whether lane packing keeps every rune intact: only the last rune may
// spill past its 16-bit lane.
func packable(runes []rune) bool {
	switch len(runes) {
	case 0, 1:
		return true
	case 2:
		return runes[0] < 1<<16
	}
	return false
}

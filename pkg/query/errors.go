package query

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrChannelNotFound  = errors.New("query: channel not found")
	ErrAmbiguousChannel = errors.New("query: channel name is ambiguous")
)

// LookupError reports a name that did not resolve to exactly one record.
type LookupError struct {
	Kind       string
	Name       string
	Candidates int
}

func (e *LookupError) Error() string {
	if e.Candidates == 0 {
		return fmt.Sprintf("query: no %s named %q", e.Kind, e.Name)
	}
	return fmt.Sprintf("query: %d %ss named %q", e.Candidates, e.Kind, e.Name)
}

func (e *LookupError) Unwrap() error {
	if e.Candidates == 0 {
		return ErrChannelNotFound
	}
	return ErrAmbiguousChannel
}

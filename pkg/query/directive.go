package query

import (
	"strings"

	"github.com/pkg/errors"
)

// Command is the part of a directive before the colon.
type Command string

const (
	CommandIn     Command = "in"
	CommandBy     Command = "by"
	CommandMsgBy  Command = "msgby"
	CommandReact  Command = "react"
	CommandBefore Command = "before"
	CommandAfter  Command = "after"
)

var commands = map[Command]struct{}{
	CommandIn: {}, CommandBy: {}, CommandMsgBy: {}, CommandReact: {}, CommandBefore: {}, CommandAfter: {},
}

// ErrMalformedDirective is returned by ParseDirective for unusable input.
var ErrMalformedDirective = errors.New("query: malformed directive")

// Directive is one `command:value[,value...]` token. Its values are OR-ed together.
type Directive struct {
	Command Command
	Values  []string
}

func (d Directive) String() string {
	return string(d.Command) + ":" + strings.Join(d.Values, ",")
}

// ParseDirective splits s on its first colon. Commands are matched exactly, so `IN:x`
// is an unknown command; empty values are dropped.
func ParseDirective(s string) (Directive, error) {
	cmd, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Directive{}, errors.Wrapf(ErrMalformedDirective, "%q has no ':'", s)
	}
	command := Command(strings.TrimSpace(cmd))
	if _, known := commands[command]; !known {
		return Directive{}, errors.Wrapf(ErrMalformedDirective, "unknown command %q", cmd)
	}
	var values []string
	for _, v := range strings.Split(rest, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return Directive{}, errors.Wrapf(ErrMalformedDirective, "%q has no values", s)
	}
	return Directive{Command: command, Values: values}, nil
}

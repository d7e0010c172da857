// Package render prints statistics, messages and scan outcomes for the command line.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/reactcache/pkg/cache"
	"github.com/go-go-golems/reactcache/pkg/collate"
	"github.com/go-go-golems/reactcache/pkg/docstore"
	"github.com/go-go-golems/reactcache/pkg/scan"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return Format(s), nil
	}
	return "", errors.Errorf("render: unknown output format %q", s)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// IsTerminal reports whether w is a terminal; tables are only styled for terminals.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Table writes headers and rows: a bordered lipgloss table on a terminal, tab-separated
// lines otherwise.
func Table(w io.Writer, headers []string, rows [][]string) error {
	if !IsTerminal(w) {
		return plainTable(w, headers, rows)
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func plainTable(w io.Writer, headers []string, rows [][]string) error {
	write := func(cells []string) error {
		for i, c := range cells {
			sep := "\t"
			if i == len(cells)-1 {
				sep = "\n"
			}
			if _, err := io.WriteString(w, c+sep); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(headers); err != nil {
		return err
	}
	for _, r := range rows {
		if err := write(r); err != nil {
			return err
		}
	}
	return nil
}

func encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return errors.Errorf("render: cannot encode %q", format)
}

// Stats prints collated statistics, limited to the top entries when top > 0.
func Stats(w io.Writer, st collate.Stats, format Format, top int) error {
	st.Entries = st.Top(top)
	if format != FormatTable {
		return encode(w, format, st)
	}
	rows := make([][]string, 0, len(st.Entries))
	for _, e := range st.Entries {
		rows = append(rows, []string{e.Key, strconv.Itoa(e.Count)})
	}
	if err := Table(w, []string{string(st.Mode), "count"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d messages, %d reactions\n", st.Messages, st.Total())
	return err
}

type messageView struct {
	ID        int64              `json:"id" yaml:"id"`
	Author    int64              `json:"author" yaml:"author"`
	Channel   int64              `json:"channel" yaml:"channel"`
	Timestamp string             `json:"datetime" yaml:"datetime"`
	Reactions map[string][]int64 `json:"reacts" yaml:"reacts"`
}

func Messages(w io.Writer, msgs []cache.MessageRecord, format Format) error {
	if format != FormatTable {
		views := make([]messageView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, messageView{
				ID: m.ID, Author: m.AuthorID, Channel: m.ChannelID,
				Timestamp: cache.FormatTime(m.Timestamp), Reactions: m.Reactions,
			})
		}
		return encode(w, format, views)
	}
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		keys := make([]string, 0, len(m.Reactions))
		for k := range m.Reactions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		summary := ""
		for i, k := range keys {
			if i > 0 {
				summary += " "
			}
			summary += fmt.Sprintf("%s×%d", k, len(m.Reactions[k]))
		}
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			strconv.FormatInt(m.ChannelID, 10),
			strconv.FormatInt(m.AuthorID, 10),
			cache.FormatTime(m.Timestamp),
			summary,
		})
	}
	return Table(w, []string{"id", "channel", "author", "datetime", "reactions"}, rows)
}

// Outcome prints one line per channel of a batch.
func Outcome(w io.Writer, out *scan.Outcome) error {
	if out == nil {
		return nil
	}
	rows := make([][]string, 0, len(out.Results))
	for _, r := range out.Results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		sentinel := ""
		if r.Sentinel != nil {
			sentinel = cache.FormatTime(*r.Sentinel)
		}
		rows = append(rows, []string{
			r.Channel.Name,
			r.State.String(),
			strconv.Itoa(r.Observed),
			strconv.Itoa(r.Reacted),
			sentinel,
			errText,
		})
	}
	if err := Table(w, []string{"channel", "state", "observed", "reacted", "sentinel", "error"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "batch %s: %d succeeded, %d skipped, %d failed in %s\n",
		out.BatchID, len(out.Succeeded), len(out.Skipped), len(out.Failed), out.Elapsed.Round(1e6))
	return err
}

// Documents dumps raw store rows.
func Documents(w io.Writer, docs []docstore.Document, format Format) error {
	if format == FormatTable {
		format = FormatJSON
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return encode(w, format, docs)
}

// Counts prints the row count of every table.
func Counts(w io.Writer, counts map[docstore.Table]int) error {
	rows := make([][]string, 0, len(counts))
	for _, t := range docstore.Tables {
		rows = append(rows, []string{string(t), strconv.Itoa(counts[t])})
	}
	return Table(w, []string{"table", "rows"}, rows)
}

package cmds

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/reactcache/pkg/docstore"
	"github.com/go-go-golems/reactcache/pkg/render"
)

func NewDumpCommand() *cobra.Command {
	var (
		table  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print raw cache rows, or row counts when no table is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := render.ParseFormat(output)
			if err != nil {
				return err
			}
			app, err := OpenApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if table == "" {
				counts, err := app.Cache.Counts(cmd.Context())
				if err != nil {
					return err
				}
				return render.Counts(cmd.OutOrStdout(), counts)
			}
			t, ok := lookupTable(table)
			if !ok {
				return errors.Errorf("unknown table %q", table)
			}
			docs, err := app.Cache.Store().Search(cmd.Context(), t, docstore.All())
			if err != nil {
				return err
			}
			return render.Documents(cmd.OutOrStdout(), docs, format)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "Table to dump: channels, reacted_messages, members or emoji")
	cmd.Flags().StringVarP(&output, "output", "o", string(render.FormatJSON), "Output format: json or yaml")
	return cmd
}

func lookupTable(name string) (docstore.Table, bool) {
	if name == "messages" {
		return docstore.TableMessages, true
	}
	for _, t := range docstore.Tables {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

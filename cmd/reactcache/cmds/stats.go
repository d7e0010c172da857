package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/reactcache/pkg/collate"
	"github.com/go-go-golems/reactcache/pkg/render"
)

func NewStatsCommand() *cobra.Command {
	var (
		mode   string
		output string
		top    int
	)
	cmd := &cobra.Command{
		Use:   "stats [directive...]",
		Short: "Collate reactions of the messages matching the directives",
		Long: `Directives are command:value[,value...] tokens, AND-ed together:

  in:general,spam     channel name
  by:alice            reacted by a member (name or nickname substring)
  msgby:alice         written by a member
  react:pog           reaction text contains the value
  before:2020-06-01   strictly before that day (UTC)
  after:2020-06-01    strictly after that day (UTC)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := collate.ParseMode(mode)
			if err != nil {
				return err
			}
			format, err := render.ParseFormat(output)
			if err != nil {
				return err
			}
			app, err := OpenApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			msgs, err := app.Engine().Search(cmd.Context(), args)
			if err != nil {
				return err
			}
			return render.Stats(cmd.OutOrStdout(), collate.CollateBy(m, msgs), format, top)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(collate.ModeReaction), "Collation mode: reaction, reactor or author")
	cmd.Flags().StringVarP(&output, "output", "o", string(render.FormatTable), "Output format: table, json or yaml")
	cmd.Flags().IntVar(&top, "top", 0, "Only show the N most frequent entries")
	return cmd
}

func NewQueryCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "query [directive...]",
		Short: "List the cached messages matching the directives",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := render.ParseFormat(output)
			if err != nil {
				return err
			}
			app, err := OpenApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			msgs, err := app.Engine().Search(cmd.Context(), args)
			if err != nil {
				return err
			}
			return render.Messages(cmd.OutOrStdout(), msgs, format)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", string(render.FormatTable), "Output format: table, json or yaml")
	return cmd
}

package cmds

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/reactcache/pkg/progress"
	"github.com/go-go-golems/reactcache/pkg/scan"
	"github.com/go-go-golems/reactcache/pkg/server"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve statistics, message search, rescans and progress over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := OpenApp(ctx, viper.GetString("source.archive") != "")
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ps, err := app.Events(ctx)
			if err != nil {
				return err
			}
			opts := []server.Option{server.WithEvents(ps.Subscriber, ps.Topic)}
			if app.Archive != nil {
				reporter := progress.Multi(progress.LogReporter{}, progress.NewPublisherReporter(ps.Publisher, ps.Topic))
				co := app.Coordinator(reporter)
				guildID := app.Settings.GuildID
				opts = append(opts, server.WithRescan(func(ctx context.Context) (*scan.Outcome, error) {
					return co.Rescan(ctx, guildID)
				}))
			}
			return server.NewServer(app.Settings.Server.Addr, app.Engine(), opts...).Run(ctx)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/reactcache/pkg/progress"
	"github.com/go-go-golems/reactcache/pkg/query"
	"github.com/go-go-golems/reactcache/pkg/render"
	"github.com/go-go-golems/reactcache/pkg/scan"
)

func NewRescanCommand() *cobra.Command {
	var (
		forceSentinel string
		watch         bool
		publish       bool
	)
	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Refresh members and every channel from the history source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := OpenApp(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			var opts []scan.Option
			if forceSentinel != "" {
				t, err := time.Parse(query.DateLayout, forceSentinel)
				if err != nil {
					return errors.Wrapf(err, "invalid --force-sentinel %q", forceSentinel)
				}
				opts = append(opts, scan.WithForceSentinel(t))
			}

			reporter := progress.Reporter(progress.LogReporter{})
			if publish || app.Settings.Events.Enabled {
				ps, err := app.Events(ctx)
				if err != nil {
					return err
				}
				reporter = progress.Multi(reporter, progress.NewPublisherReporter(ps.Publisher, ps.Topic))
			}
			co := app.Coordinator(reporter, opts...)
			guildID := app.Settings.GuildID

			runOnce := func(ctx context.Context) error {
				out, err := co.Rescan(ctx, guildID)
				if err != nil {
					return err
				}
				return render.Outcome(cmd.OutOrStdout(), out)
			}

			if err := runOnce(ctx); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			log.Info().Str("archive", app.Settings.Source.Archive).Msg("watching archive for changes")
			return app.Archive.Watch(ctx, app.Settings.Source.Archive, 0, func(ctx context.Context) {
				if err := runOnce(ctx); err != nil {
					log.Error().Err(err).Msg("rescan failed")
				}
			})
		},
	}
	cmd.Flags().StringVar(&forceSentinel, "force-sentinel", "", "Rescan history after this date (YYYY-MM-DD) instead of the stored sentinels")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and rescan whenever the archive changes")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish progress events even when events.redis-enabled is false")
	return cmd
}

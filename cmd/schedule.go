package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
	_ "time/tzdata" // schedule.timezone must resolve in minimal images

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sro-registry-crawler/internal/api"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
	"github.com/JakeFAU/sro-registry-crawler/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Collect every day at the configured time and serve run status over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := stateFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runSchedule(cmd.Context(), st, now)
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "run one collection immediately before waiting")
	return cmd
}

func runSchedule(ctx context.Context, st *state, now bool) error {
	loc, err := time.LoadLocation(st.cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	base, err := collectRequest(st.cfg)
	if err != nil {
		return err
	}
	collect := func(ctx context.Context, window registry.Window) error {
		req := base
		req.Window = window
		_, err := st.app.Collect(ctx, req)
		return err
	}
	sched, err := scheduler.New(scheduler.Config{
		At:           st.cfg.Schedule.At,
		Location:     loc,
		LookbackDays: st.cfg.Schedule.LookbackDays,
	}, collect, clock, st.logger)
	if err != nil {
		return err
	}

	if now {
		window, err := sched.Window(clock.Now())
		if err != nil {
			return err
		}
		if err := collect(ctx, window); err != nil {
			st.logger.Error("immediate collection failed", zap.Error(err))
		}
	}

	addr := net.JoinHostPort("", strconv.Itoa(st.cfg.Server.Port))
	srv := api.NewServer(st.app.History(), st.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	return g.Wait()
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"polibrief/internal/server"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		addr        string
		noScheduler bool
		noWorker    bool
		noFeeds     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the pending-item worker and the digest scheduler",
		Long: `Start the polibrief server.

The server provides:
  • REST API for capture, item review and digests
  • a worker that classifies pending items every workers.poll_interval
  • feed imports of capture.feeds.urls every capture.feeds.interval
  • the daily digest scheduler firing at digest.schedule_time

Examples:
  polibrief serve
  polibrief serve --addr :9090
  polibrief serve --no-scheduler`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, serveOptions{
				worker:   !noWorker,
				schedule: !noScheduler,
				feeds:    !noFeeds,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config: :8080)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Do not generate digests on schedule")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not classify pending items in the background")
	cmd.Flags().BoolVar(&noFeeds, "no-feeds", false, "Do not import the configured feeds")

	return cmd
}

// NewScheduleCmd creates the schedule command, the scheduler without the API
func NewScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run only the daily digest scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.scheduler(ctx)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

type serveOptions struct {
	worker   bool
	schedule bool
	feeds    bool
}

func runServe(parent context.Context, addr string, opts serveOptions) error {
	ctx, stop := signalContext(parent)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	s, err := a.scheduler(ctx)
	if err != nil {
		return err
	}

	cfg := serverConfig(a.cfg)
	if addr != "" {
		cfg.Addr = addr
	}
	capturer := a.capturer()
	srv, err := server.New(cfg, server.Deps{
		Store:     a.store,
		Capturer:  capturer,
		Processor: p,
		Digests:   s,
	}, a.log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if opts.worker {
		g.Go(func() error { return p.Run(gctx, a.cfg.Workers.PollIntervalDuration()) })
	}
	if feeds := a.cfg.Capture.Feeds.URLs; opts.feeds && len(feeds) > 0 {
		importer := a.feedImporter(capturer)
		g.Go(func() error { return importer.Run(gctx, feeds, a.cfg.Capture.Feeds.IntervalDuration()) })
	}
	if opts.schedule {
		g.Go(func() error { return s.Run(gctx) })
	}

	err = g.Wait()
	// digests generated over HTTP may still be delivering
	s.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

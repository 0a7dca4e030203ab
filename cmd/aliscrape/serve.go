package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/aliscrape/internal/api"
	"github.com/FranksOps/aliscrape/internal/metrics"
	"github.com/FranksOps/aliscrape/internal/pipeline"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := pipeline.New(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	handler := api.NewRouter(api.Config{CORSOrigins: a.cfg.Server.CORSOrigins}, api.NewHandlers(svc, a.logger))
	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// A crawl may run up to crawl.deadline before the response is written.
	if a.cfg.Crawl.Deadline > 0 {
		server.WriteTimeout = a.cfg.Crawl.Deadline + time.Minute
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("api server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	ms := metrics.Start(a.cfg.Metrics.Port, a.logger)

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(server.Shutdown(shutdownCtx), ms.Stop(shutdownCtx))
	})

	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"media-viewer/internal/origins"
	"media-viewer/internal/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()
	logger := a.logger

	allowed, err := origins.NewStore(a.settings.AllowedOrigins, a.settings.OriginsFile, a.settings.RefreshDebounce, logger)
	if err != nil {
		return fmt.Errorf("initialise origin allow-list: %w", err)
	}
	a.closers = append(a.closers, allowed.Close)

	handler, err := server.New(server.Deps{
		Sequences:  a.sequences,
		Media:      a.media,
		Thumbnails: a.thumbs,
		Results:    a.results,
		Origins:    allowed,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// No WriteTimeout: large media responses are streamed.
	httpServer := &http.Server{
		Addr:              a.settings.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("graceful shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", a.settings.ListenAddr),
		zap.String("contents", a.settings.ContentsDir),
		zap.String("thumbnails", a.settings.ThumbnailDir),
		zap.Int("origins", allowed.Origins()),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipsmith/clipsmith/internal/events"
	"github.com/clipsmith/clipsmith/internal/httpapi"
	"github.com/clipsmith/clipsmith/internal/jobs"
	"github.com/clipsmith/clipsmith/internal/pipeline"
	"github.com/clipsmith/clipsmith/internal/ports/adapters/ffmpeg"
)

const jobRetention = 24 * time.Hour

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the render job server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().String("addr", getenvDefault("CLIPSMITH_ADDR", ":8090"), "Listen address")
	cmd.Flags().String("out", getenvDefault("CLIPSMITH_EXPORTS_DIR", "exports"), "Exports directory")
	cmd.Flags().Float64("focus", 0.5, "Horizontal crop focus, 0 (left) to 1 (right)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	outDir, _ := cmd.Flags().GetString("out")
	focus, _ := cmd.Flags().GetFloat64("focus")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	video := ffmpeg.New(
		getenvDefault("FFMPEG_PATH", "ffmpeg"),
		getenvDefault("FFPROBE_PATH", "ffprobe"),
	)
	runner := pipeline.NewRunner(video, outDir, focus, logger)
	manager := jobs.NewManager(logger)
	broadcaster := events.NewBroadcaster()

	api := httpapi.NewServer(manager, broadcaster, runner, outDir, logger)

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	mux.Handle("GET /exports/", http.StripPrefix("/exports/", http.FileServer(http.Dir(outDir))))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Terminal jobs are kept for a day so clients can poll results late.
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := manager.CleanupCompleted(jobRetention); n > 0 {
					logger.Info("cleaned up finished jobs", "count", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "exports", outDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		stop()
		<-cleanupDone
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("http shutdown", "error", err)
	}
	manager.Shutdown()
	<-cleanupDone
	return nil
}

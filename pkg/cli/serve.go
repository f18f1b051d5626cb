package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	httpctrl "github.com/secmon-lab/simplemem/pkg/controller/http"
	"github.com/secmon-lab/simplemem/pkg/service/worker"
	"github.com/secmon-lab/simplemem/pkg/usecase"
	"github.com/secmon-lab/simplemem/pkg/utils/async"
	"github.com/secmon-lab/simplemem/pkg/utils/errutil"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func cmdServe() *cli.Command {
	var addr string
	var finalizeOnShutdown bool
	var autoFinalizeInterval time.Duration
	var allowedOrigins []string
	var memCfg memoryConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       "0.0.0.0:8000",
			Sources:     cli.EnvVars("SIMPLEMEM_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "finalize-on-shutdown",
			Usage:       "Finalize pending dialogues before the server exits",
			Sources:     cli.EnvVars("SIMPLEMEM_FINALIZE_ON_SHUTDOWN"),
			Destination: &finalizeOnShutdown,
		},
		&cli.DurationFlag{
			Name:        "auto-finalize-interval",
			Usage:       "Finalize pending dialogues periodically (0 to disable)",
			Sources:     cli.EnvVars("SIMPLEMEM_AUTO_FINALIZE_INTERVAL"),
			Destination: &autoFinalizeInterval,
		},
		&cli.StringSliceFlag{
			Name:        "cors-allowed-origins",
			Usage:       "Origins allowed to call the API from a browser (\"*\" for any)",
			Value:       []string{"*"},
			Sources:     cli.EnvVars("SIMPLEMEM_CORS_ALLOWED_ORIGINS"),
			Destination: &allowedOrigins,
		},
	}
	flags = append(flags, memCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, err := memCfg.build(ctx, c)
			if err != nil {
				return err
			}
			defer func() {
				if err := uc.Close(); err != nil {
					logging.Default().Error("failed to close backend", "error", err.Error())
				}
			}()

			// Initialize eagerly so that misconfiguration shows up in the
			// startup log. Requests retry initialization on failure.
			if _, err := uc.Memory.Stats(ctx); err != nil {
				logging.Default().Warn("Backend is not ready yet", "error", err.Error())
			}

			var dispatcher async.Dispatcher
			httpHandler := httpctrl.New(uc,
				httpctrl.WithVersion(c.Root().Version),
				httpctrl.WithDispatcher(&dispatcher),
				httpctrl.WithAllowedOrigins(allowedOrigins),
			)
			server := &http.Server{
				Addr:              addr,
				Handler:           httpHandler,
				ReadHeaderTimeout: 30 * time.Second,
			}

			var autoFinalizer *worker.AutoFinalizeWorker
			if autoFinalizeInterval > 0 {
				autoFinalizer = worker.NewAutoFinalizeWorker(uc.Memory, autoFinalizeInterval)
				if err := autoFinalizer.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start auto finalize worker")
				}
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			// Start server in goroutine
			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			// Wait for shutdown signal or server error
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logging.Default().Info("Context canceled, shutting down")
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			if autoFinalizer != nil {
				autoFinalizer.Stop()
			}

			// Background finalizes started by requests must finish before
			// the backend is closed.
			dispatcher.Wait()

			if finalizeOnShutdown {
				finalizePending(context.Background(), uc)
			}

			logging.Default().Info("Server shutdown completed")
			return nil
		},
	}
}

func finalizePending(ctx context.Context, uc *usecase.UseCases) {
	if !uc.Memory.Initialized() {
		return
	}

	stats, err := uc.Memory.Stats(ctx)
	if err != nil {
		errutil.Handle(ctx, err, "failed to read stats before shutdown finalize")
		return
	}
	if stats.Pending == 0 {
		return
	}

	logging.Default().Info("Finalizing pending dialogues before exit", "pending", stats.Pending)
	if _, err := uc.Memory.Finalize(ctx); err != nil {
		errutil.Handle(ctx, err, "failed to finalize on shutdown")
	}
}

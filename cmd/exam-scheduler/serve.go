package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-scheduler/internal/handler"
	"github.com/noah-isme/exam-scheduler/internal/middleware"
	"github.com/noah-isme/exam-scheduler/internal/service"
	"github.com/noah-isme/exam-scheduler/pkg/config"
	"github.com/noah-isme/exam-scheduler/pkg/logger"
	"github.com/noah-isme/exam-scheduler/pkg/middleware/requestid"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops server and process queued scheduling runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			if port == 0 {
				port = a.cfg.Ops.Port
			}

			var worker *service.RunWorker
			if a.redis != nil {
				worker = service.NewRunWorker(a.queue, a.scheduling, service.RunWorkerConfig{
					Workers:    a.cfg.Scheduler.Workers,
					MaxRetries: 3,
					RetryDelay: 30 * time.Second,
				}, a.logger)
				worker.Start(ctx)
				defer worker.Stop()
			} else {
				a.logger.Warn("redis disabled, queued runs will not be processed")
			}

			if a.cfg.Env == config.EnvProduction {
				gin.SetMode(gin.ReleaseMode)
			}
			r := gin.New()
			r.Use(gin.Recovery())
			r.Use(requestid.Middleware())
			r.Use(logger.GinMiddleware(a.logger))
			r.Use(middleware.Metrics(a.metrics, "/metrics"))

			checks := map[string]handler.ReadinessCheck{"postgres": a.db.PingContext}
			if a.redis != nil {
				checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
			}
			var pending interface{ Pending() int64 }
			if worker != nil {
				pending = worker
			}
			ops := handler.NewOpsHandler(a.metrics, checks, a.queue, pending)
			ops.Register(r)

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           r,
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("ops server starting", zap.String("addr", srv.Addr), zap.String("env", a.cfg.Env))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("ops server: %w", err)
				}
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			a.logger.Info("ops server shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Ops server port (default OPS_PORT)")
	return cmd
}

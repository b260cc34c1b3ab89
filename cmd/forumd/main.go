package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go_forum/internal/app"
	"go_forum/internal/config"
	"go_forum/internal/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	runJob := flag.String("run", "", "run a single job once and exit (forum_immediate, forum_digest, forum_read_cleanup)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		logger.L().Warnf("Failed to load .env: %v", err)
	}

	// 初始化logger
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("配置加载失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.L().Fatalf("应用初始化失败: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Close(shutdownCtx); err != nil {
			logger.L().Errorf("Shutdown error: %v", err)
		}
	}()

	if *runJob != "" {
		if err := application.RunOnce(ctx, *runJob); err != nil {
			logger.L().Errorf("Job %s failed: %v", *runJob, err)
			stop()
			os.Exit(1)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(application.Metrics, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.L().Infof("Metrics listening on %s", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Errorf("Metrics server error: %v", err)
		}
	}()

	application.Scheduler.Start()
	logger.L().Info("forumd started")

	<-ctx.Done()
	logger.L().Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L().Warnf("Metrics server shutdown: %v", err)
	}
}

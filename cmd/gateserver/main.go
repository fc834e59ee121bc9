// Command gateserver runs the deployment gate: an HTTP webhook intake
// for deployment_protection_rule events and a queue worker that
// evaluates each delivery against the repository's rule file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/actiongates/actiongates-server/internal/application"
	"github.com/actiongates/actiongates-server/internal/config"
	"github.com/actiongates/actiongates-server/internal/domain"
	"github.com/actiongates/actiongates-server/internal/infrastructure/githubapp"
	"github.com/actiongates/actiongates-server/internal/infrastructure/memqueue"
	"github.com/actiongates/actiongates-server/internal/infrastructure/redisqueue"
	"github.com/actiongates/actiongates-server/internal/infrastructure/sqlitequeue"
	"github.com/actiongates/actiongates-server/internal/webhook"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, cleanup, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	gh, err := githubapp.New(cfg.GitHubBaseURL, cfg.GitHubToken, log)
	if err != nil {
		return fmt.Errorf("build github client: %w", err)
	}

	processor := &application.Processor{
		RuleFiles:    gh,
		Queries:      gh,
		Runs:         gh,
		Decisions:    gh,
		Queue:        queue,
		QueueName:    cfg.QueueName,
		RuleFilePath: cfg.RuleFilePath,
		Log:          log,
	}
	worker := &application.Worker{
		Consumer:  queue,
		QueueName: cfg.QueueName,
		Processor: processor,
		Interval:  cfg.PollInterval,
		Log:       log,
	}

	mux := http.NewServeMux()
	mux.Handle("/webhook", &webhook.Handler{
		Queue:     queue,
		QueueName: cfg.QueueName,
		MaxTries:  cfg.MaxTries,
		Log:       log,
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "queue_backend", cfg.QueueBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	wg.Wait()
	return nil
}

// openQueue builds the configured queue backend. The returned cleanup
// releases backend resources and is safe to call once.
func openQueue(cfg config.Config) (domain.Consumer, func(), error) {
	switch cfg.QueueBackend {
	case "sqlite":
		db, err := sqlitequeue.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite queue: %w", err)
		}
		return &sqlitequeue.Queue{DB: db}, func() { db.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return &redisqueue.Queue{Client: client}, func() { client.Close() }, nil
	case "memory":
		return &memqueue.Queue{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

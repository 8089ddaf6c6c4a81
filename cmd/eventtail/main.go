// Command eventtail follows the auth event topics and logs each event once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hireloop/internal/events"
	"hireloop/internal/events/tail"
	"hireloop/internal/platform/config"
	"hireloop/internal/platform/kafka/consumer"
	"hireloop/internal/platform/logger"
)

type options struct {
	configPath  string
	window      int
	fromLatest  bool
	metricsAddr string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", os.Getenv("HIRELOOP_CONFIG_FILE"), "path to an optional YAML config file")
	flag.IntVar(&opts.window, "dedupe-window", 10_000, "number of recent event ids remembered for duplicate detection")
	flag.BoolVar(&opts.fromLatest, "latest", false, "start from the newest offset when the group has no commit")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address when set")
	flag.Parse()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, opts, log)
	stop()
	if err != nil {
		log.Error("eventtail exited", "error", err)
		os.Exit(1)
	}
	log.Info("eventtail stopped")
}

func run(ctx context.Context, cfg config.Config, opts options, log *slog.Logger) error {
	topics := events.NewRouter(cfg.Kafka.TopicMode, cfg.Kafka.Topic).Topics()
	ccfg := cfg.Kafka.ConsumerConfig(topics...)
	if opts.fromLatest {
		ccfg.AutoOffsetReset = "latest"
	}

	reg := prometheus.NewRegistry()
	handler := tail.NewHandler(tail.NewWindow(opts.window),
		tail.WithLogger(log),
		tail.WithMetrics(tail.NewMetrics(reg)),
	)
	c, err := consumer.New(ccfg, handler, log)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close() //nolint:errcheck // process is exiting
	}

	log.Info("tailing auth events", "topics", topics, "group", ccfg.GroupID)
	c.Start()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop consumer: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/microbiomedata/funcagg/pkg/aggregation"
	"github.com/microbiomedata/funcagg/pkg/config"
	"github.com/microbiomedata/funcagg/pkg/nmdc"
	"github.com/microbiomedata/funcagg/pkg/server"
	"github.com/microbiomedata/funcagg/pkg/server/monitor"
	"github.com/microbiomedata/funcagg/pkg/source"
	"github.com/microbiomedata/funcagg/pkg/storage"
	"github.com/microbiomedata/funcagg/pkg/storage/badger"
	"github.com/microbiomedata/funcagg/pkg/storage/mongo"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}

	logFile, err := setupLogging(cfg.LogFile)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		log.Printf("Aggregation job stopped: %v", err)
		logFile.Close()
		os.Exit(1)
	}
	log.Println("Shutdown complete")
	logFile.Close()
}

// setupLogging sends log output to stdout and appends it to path.
func setupLogging(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Printf("Starting aggregation job (source=%s, sink=%s, env=%s, poll=%v)", cfg.Source, cfg.Sink, cfg.Env, cfg.PollInterval)

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	store, err := mongo.New(connectCtx, mongo.Config{
		URI:            cfg.MongoURL,
		Database:       cfg.MongoDB,
		ConnectTimeout: config.ConnectTimeout,
	})
	cancel()
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("Connected to MongoDB database %s", cfg.MongoDB)

	var (
		src  source.Source = store
		sink storage.Store = store
	)
	if cfg.Source == config.SourceAPI || cfg.Sink == config.SinkAPI {
		client, err := nmdc.New(ctx, nmdc.Options{
			BaseURL:      cfg.APIURL(),
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Timeout:      config.APITimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to runtime API: %w", err)
		}
		if cfg.Source == config.SourceAPI {
			src = client
			log.Printf("Reading workflow records from %s", cfg.APIURL())
		}
		if cfg.Sink == config.SinkAPI {
			sink = nmdc.NewSink(client)
			log.Printf("Submitting aggregation members to %s", cfg.APIURL())
		}
	}

	journal, err := badger.New(badger.Config{Path: cfg.JournalPath, InMemory: cfg.JournalPath == ""})
	if err != nil {
		return err
	}
	defer journal.Close()

	opener := source.NewOpener(cfg.BaseURL, cfg.BasePath, config.FetchTimeout)
	builders := []server.Runner{
		aggregation.NewMetaGT(src, sink, opener, aggregation.WithSkipDone(cfg.SkipDone)),
		aggregation.NewMetaP(src, sink, opener, aggregation.WithSkipDone(cfg.SkipDone)),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(reg)
	cycleMonitor := monitor.NewCycleMonitor(2*cfg.PollInterval + config.HealthGrace)
	hub := server.NewReportHub()
	stats := server.NewStatsCache(sink)

	scheduler := server.NewScheduler(builders, server.SchedulerConfig{
		Interval:  cfg.PollInterval,
		Retention: cfg.JournalRetention,
		Monitor:   cycleMonitor,
		Metrics:   metrics,
		Journal:   journal,
		Hub:       hub,
		Stats:     stats,
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gCtx)
	})

	if cfg.StatusAddr != "" {
		srv := server.NewHTTPServer(cfg.StatusAddr, server.Status{
			Store:    sink,
			Stats:    stats,
			Monitor:  cycleMonitor,
			Journal:  journal,
			Hub:      hub,
			Gatherer: reg,
			Requests: server.NewRequestMetrics(reg),
		})
		g.Go(func() error {
			hub.Run(gCtx)
			return nil
		})
		g.Go(func() error {
			server.ServeStatus(gCtx, srv)
			return nil
		})
	}

	if cfg.JournalPath != "" {
		g.Go(func() error {
			server.RunJournalGC(gCtx, journal, config.JournalGCInterval)
			return nil
		})
	}

	return g.Wait()
}

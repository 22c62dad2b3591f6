package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/coi-platform/sla-engine/internal/audit"
	"github.com/coi-platform/sla-engine/internal/calendar"
	"github.com/coi-platform/sla-engine/internal/config"
	"github.com/coi-platform/sla-engine/internal/events"
	"github.com/coi-platform/sla-engine/internal/httpserver"
	"github.com/coi-platform/sla-engine/internal/monitor"
	"github.com/coi-platform/sla-engine/internal/predictor"
	"github.com/coi-platform/sla-engine/internal/priority"
	"github.com/coi-platform/sla-engine/internal/scheduler"
	"github.com/coi-platform/sla-engine/internal/service"
	"github.com/coi-platform/sla-engine/internal/sla"
	"github.com/coi-platform/sla-engine/internal/store"
)

func main() {
	runScheduler := flag.Bool("run-scheduler", false, "start the periodic SLA check scheduler")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}
	if err := store.EnsureSchema(context.Background(), db); err != nil {
		log.Fatalf("schema init: %v", err)
	}

	st := store.NewPGStore(db)
	cal := calendar.NewStoreProvider(st)
	resolver := sla.NewResolver(st)
	clock := sla.NewClock(cal, resolver)

	var sink events.Sink = events.LogSink{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := events.NewKafkaSink(events.KafkaSinkConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka sink init: %v", err)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	}

	var client predictor.Client
	if cfg.PredictorURL != "" {
		httpClient, err := predictor.NewHTTPClient(predictor.HTTPClientConfig{
			BaseURL: cfg.PredictorURL,
			Timeout: cfg.PredictorTimeout,
		})
		if err != nil {
			log.Fatalf("predictor client init: %v", err)
		}
		client = predictor.NewBreaker(httpClient, predictor.BreakerConfig{})
	}

	var archiver audit.Archiver
	if cfg.AuditBucket != "" {
		s3Archiver, err := audit.NewS3Archiver(context.Background(), cfg.AuditBucket, cfg.AuditPrefix)
		if err != nil {
			log.Fatalf("audit archiver init: %v", err)
		}
		archiver = s3Archiver
	}
	auditor := audit.NewStoreRecorder(st, archiver)

	extractor := predictor.NewExtractor(clock, st.CountOpenItemsForRequester)
	scorer := priority.NewScorer(st, clock, extractor, client)
	mon := monitor.New(st, clock, sink, monitor.Config{Concurrency: cfg.Concurrency})
	svc := service.New(st, resolver, clock, scorer, mon, auditor, cal, service.Config{
		PendingStatuses: cfg.PendingStatuses,
	})
	server := httpserver.New(cfg, svc, st)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	var sched *scheduler.Scheduler
	if shouldRunScheduler(*runScheduler) {
		sched, err = scheduler.Start(svc, cfg.CheckSchedule)
		if err != nil {
			log.Fatalf("scheduler init: %v", err)
		}
	}

	go func() {
		log.Printf("SLA engine service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, sched)
}

func waitForShutdown(srv *http.Server, sched *scheduler.Scheduler) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func shouldRunScheduler(flagValue bool) bool {
	if flagValue {
		return true
	}
	if v := os.Getenv("SLA_ENGINE_SCHEDULER"); v != "" {
		enabled, err := strconv.ParseBool(v)
		return err == nil && enabled
	}
	return false
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"alertflow/config"
	inputfile "alertflow/internal/input/file"
	inputredis "alertflow/internal/input/redis"
	"alertflow/internal/logger"
	"alertflow/internal/metrics"
	"alertflow/internal/output/rawcapture"
	"alertflow/internal/output/resultjson"
	"alertflow/internal/output/taskclickhouse"
	"alertflow/internal/output/taskhttp"
	"alertflow/internal/output/taskjson"
	"alertflow/internal/output/tasklog"
	"alertflow/internal/output/taskredis"
	"alertflow/internal/persistence"
	"alertflow/internal/pipeline"
	"alertflow/internal/rules"
	"alertflow/internal/tasks"
	"alertflow/internal/workflow"

	"go.uber.org/zap"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("alertflow.yml"); err == nil {
		return "alertflow.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "alertflow.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "alertflow.yml"
}

func loadRules(path string) (*rules.RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		logger.Infof("Using built-in workflow rules")
		return rules.DefaultRuleSet(), nil
	}
	rs, err := rules.LoadRuleSet(path)
	if err != nil {
		return nil, err
	}
	logger.Infof("Workflow rules loaded from %s: %d rules", path, len(rs.Rules()))
	return rs, nil
}

// closer collects resources released on shutdown.
type closer []func() error

func (c *closer) add(fn func() error) { *c = append(*c, fn) }

func (c closer) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Errorf("Close failed: %v", err)
		}
	}
}

func registerSinks(store *tasks.Store, notify config.NotifyConfig, closers *closer) error {
	if notify.Log {
		store.RegisterHandler("log", tasklog.NewWriter())
		logger.Infof("Task notifications: log")
	}
	if notify.File.Path != "" {
		w, err := taskjson.NewWriter(notify.File.Path)
		if err != nil {
			return fmt.Errorf("task file sink: %w", err)
		}
		store.RegisterHandler("file", w)
		closers.add(w.Close)
		logger.Infof("Task notifications: file (%s)", notify.File.Path)
	}
	if notify.HTTP.URL != "" {
		w, err := taskhttp.NewWriter(taskhttp.Config{
			URL:     notify.HTTP.URL,
			Timeout: notify.HTTP.Timeout,
			Headers: notify.HTTP.Headers,
		})
		if err != nil {
			return fmt.Errorf("task webhook sink: %w", err)
		}
		store.RegisterHandler("http", w)
		logger.Infof("Task notifications: http (%s)", notify.HTTP.URL)
	}
	if notify.ClickHouse.URL != "" {
		w, err := taskclickhouse.NewWriter(taskclickhouse.Config{
			URL:      notify.ClickHouse.URL,
			Database: notify.ClickHouse.Database,
			Table:    notify.ClickHouse.Table,
			Username: notify.ClickHouse.Username,
			Password: notify.ClickHouse.Password,
			Timeout:  notify.ClickHouse.Timeout,
			Headers:  notify.ClickHouse.Headers,
		})
		if err != nil {
			return fmt.Errorf("task clickhouse sink: %w", err)
		}
		store.RegisterHandler("clickhouse", w)
		logger.Infof("Task notifications: clickhouse (%s)", notify.ClickHouse.URL)
	}
	if notify.Redis.Addr != "" {
		w, err := taskredis.NewWriter(taskredis.Config{
			Addr:     notify.Redis.Addr,
			Password: notify.Redis.Password,
			DB:       notify.Redis.DB,
			Key:      notify.Redis.Key,
			MaxLen:   notify.Redis.MaxLen,
		})
		if err != nil {
			return fmt.Errorf("task redis sink: %w", err)
		}
		store.RegisterHandler("redis", w)
		closers.add(w.Close)
		logger.Infof("Task notifications: redis list %s", notify.Redis.Key)
	}
	return nil
}

func runService(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	af := cfg.AlertFlow

	if err := logger.Init(af.Logging.Enabled, af.Logging.Level, af.Logging.File, af.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Infof("AlertFlow starting")
	logger.Infof("Config loaded from: %s", configPath)

	var closers closer
	defer func() { closers.closeAll() }()

	ruleSet, err := loadRules(af.Rules.Path)
	if err != nil {
		logger.Errorf("Failed to load workflow rules from %s: %v", af.Rules.Path, err)
		log.Fatalf("Failed to load workflow rules: %v", err)
	}

	var collector *metrics.Collector
	if af.Metrics.Enabled {
		collector = metrics.New(af.Metrics.Namespace)
	}

	store := tasks.NewStore()
	opts := []workflow.Option{
		workflow.WithStore(store),
		workflow.WithMetrics(collector),
		workflow.WithRetentionFactor(af.Engine.RetentionFactor),
	}
	if af.Persistence.Enabled {
		redisStore, err := persistence.NewRedisStore(persistence.RedisConfig{
			Addr:      af.Persistence.Redis.Addr,
			Password:  af.Persistence.Redis.Password,
			DB:        af.Persistence.Redis.DB,
			KeyPrefix: af.Persistence.Redis.KeyPrefix,
			TTL:       af.Persistence.Redis.TTL,
		})
		if err != nil {
			logger.Errorf("Failed to connect task persistence: %v", err)
			log.Fatalf("Failed to connect task persistence: %v", err)
		}
		closers.add(redisStore.Close)
		persister := persistence.NewRetrying(redisStore, persistence.RetryConfig{
			MaxAttempts:     af.Persistence.Retry.MaxAttempts,
			InitialInterval: af.Persistence.Retry.InitialInterval,
			MaxInterval:     af.Persistence.Retry.MaxInterval,
		})
		opts = append(opts, workflow.WithPersister(persister))
		store.RegisterHandler("persistence", persistence.Mirror{P: persister})
		logger.Infof("Task persistence: redis (%s)", af.Persistence.Redis.Addr)
	}
	if err := registerSinks(store, af.Notify, &closers); err != nil {
		log.Fatalf("Failed to set up task notifications: %v", err)
	}

	engine := workflow.New(ruleSet, opts...)
	logger.Infof("Dedup retention: %s", engine.Retention())

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         af.Input.Redis.Addr,
		Password:     af.Input.Redis.Password,
		DB:           af.Input.Redis.DB,
		Key:          af.Input.Redis.Key,
		DeadLetter:   af.Input.Redis.DeadLetter,
		BlockTimeout: af.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	var rawWriter pipeline.RawWriter
	if af.ReplayCapture.Enabled {
		w, err := rawcapture.NewWriter(af.ReplayCapture.File.Path)
		if err != nil {
			log.Fatalf("Failed to create replay capture writer: %v", err)
		}
		rawWriter = w
	}

	pipe := pipeline.NewAlertPipeline(consumer, engine, nil, rawWriter, collector, pipeline.Options{
		Workers:        af.Pipeline.Workers,
		BatchSize:      af.Pipeline.BatchSize,
		FlushInterval:  af.Pipeline.FlushInterval,
		SweepInterval:  af.Pipeline.SweepInterval,
		ProcessTimeout: af.Pipeline.ProcessTimeout,
	})

	var metricsServer *http.Server
	if collector != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsServer = &http.Server{Addr: af.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
		logger.Infof("Metrics listening on %s/metrics", af.Metrics.Addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Infof("Shutting down")
	case <-done:
	}
	cancel()
	<-done

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}
	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		stop()
	}
	st := engine.Stats()
	logger.Infof("AlertFlow stopped: processed=%d tasks=%d duplicates=%d correlated=%d batched=%d failures=%d",
		st.AlertsProcessed, st.TasksCreated, st.Duplicates, st.Correlated, st.Batched, st.Failures)
}

type replaySummary struct {
	Input    string         `json:"input"`
	Output   string         `json:"output,omitempty"`
	Pipeline pipeline.Stats `json:"pipeline"`
	Engine   workflow.Stats `json:"engine"`
}

func runReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	input := fs.String("input", "output/captured_alerts.jsonl", "Alert JSONL input path (- for stdin)")
	output := fs.String("output", "", "Optional per-alert result JSONL output path")
	rulesFile := fs.String("rules-file", "", "YAML file that defines workflow rules (built-in rules when empty)")
	tasksOutput := fs.String("tasks-output", "", "Optional task lifecycle JSONL output path")
	workers := fs.Int("workers", 1, "Concurrent workers")
	retention := fs.Int("retention-factor", workflow.DefaultRetentionFactor, "Dedup retention as a multiple of the longest correlation window")
	verbose := fs.Bool("v", false, "Log engine decisions to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// stdout carries the summary, so logs go to stderr.
	zcfg := zap.NewDevelopmentConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if *verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	logger.SetLogger(zl)
	defer logger.Sync()

	ruleSet, err := loadRules(*rulesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load rules file: %v\n", err)
		return 1
	}

	source, err := inputfile.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	var closers closer
	defer func() { closers.closeAll() }()

	store := tasks.NewStore()
	if strings.TrimSpace(*tasksOutput) != "" {
		if err := registerSinks(store, config.NotifyConfig{File: config.FileOutputConfig{Path: *tasksOutput}}, &closers); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}
	engine := workflow.New(ruleSet, workflow.WithStore(store), workflow.WithRetentionFactor(*retention))

	var results pipeline.ResultWriter
	if strings.TrimSpace(*output) != "" {
		w, err := resultjson.NewWriter(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create result writer: %v\n", err)
			return 1
		}
		results = w
	}

	pipe := pipeline.NewAlertPipeline(source, engine, results, nil, nil, pipeline.Options{Workers: *workers})
	runErr := pipe.Run(context.Background())
	if err := pipe.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close replay: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", runErr)
		return 1
	}

	summary := replaySummary{Input: *input, Output: *output, Pipeline: pipe.Stats(), Engine: engine.Stats()}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write summary: %v\n", err)
		return 1
	}
	return 0
}

func runRules(args []string) int {
	fs := flag.NewFlagSet("rules", flag.ContinueOnError)
	rulesFile := fs.String("rules-file", "", "YAML file that defines workflow rules (built-in rules when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var ruleSet *rules.RuleSet
	if strings.TrimSpace(*rulesFile) == "" {
		ruleSet = rules.DefaultRuleSet()
	} else {
		rs, err := rules.LoadRuleSet(*rulesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid rules file: %v\n", err)
			return 1
		}
		ruleSet = rs
	}

	for i, r := range ruleSet.Rules() {
		fmt.Printf("%2d  %-32s %-20s %-8s", i+1, r.Name, r.Action, r.Priority)
		if r.CorrelationKey != "" {
			fmt.Printf(" key=%s window=%s", r.CorrelationKey, r.CorrelationWindow)
		}
		fmt.Println()
	}
	fmt.Printf("longest correlation window: %s\n", ruleSet.LongestCorrelationWindow())
	return 0
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runService(os.Args[2:])
			return
		case "replay":
			os.Exit(runReplay(os.Args[2:]))
		case "rules":
			os.Exit(runRules(os.Args[2:]))
		default:
			// First arg is a config path.
			runService(os.Args[1:])
			return
		}
	}
	runService(nil)
}

// Package main provides the pastebridge binary: the upload and editing
// session service, and a replay harness for captured clipboard payloads
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/memtensor/pastebridge/api"
	"github.com/memtensor/pastebridge/pkg/busy"
	"github.com/memtensor/pastebridge/pkg/config"
	"github.com/memtensor/pastebridge/pkg/core"
	"github.com/memtensor/pastebridge/pkg/editor"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/logger"
	"github.com/memtensor/pastebridge/pkg/metrics"
	"github.com/memtensor/pastebridge/pkg/readers"
	"github.com/memtensor/pastebridge/pkg/storage"
	"github.com/memtensor/pastebridge/pkg/telemetry"
	"github.com/memtensor/pastebridge/pkg/types"
	"github.com/memtensor/pastebridge/pkg/uploader"
)

// Version information (set by build process)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Command line flags
var (
	configFile   = flag.String("config", "", "Path to configuration file (yaml or json)")
	envFile      = flag.String("env", ".env", "Environment file loaded before the configuration")
	logLevel     = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	logFile      = flag.String("log-file", "", "Log file path (default: stdout)")
	showVersion  = flag.Bool("version", false, "Show version information")
	remoteUpload = flag.Bool("remote-upload", false, "Upload through upload.endpoint instead of the local store")
	replayFile   = flag.String("replay", "", "Replay a captured clipboard payload (JSON) instead of serving")
	repeat       = flag.Int("repeat", 1, "Number of replay runs")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("pastebridge %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring %s: %v", *envFile, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, gracefully shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}

// app bundles the long-lived collaborators shared by serve and replay
type app struct {
	cfg      *config.AppConfig
	logger   interfaces.Logger
	metrics  interfaces.Metrics
	store    *storage.LocalStore
	uploader interfaces.Uploader
	guard    interfaces.BusyGuard
	fetcher  interfaces.Fetcher
	reporter interfaces.Reporter
	closers  []func() error
}

func run(ctx context.Context) error {
	manager, err := config.NewConfigManager(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := manager.Current()
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("Starting pastebridge", map[string]interface{}{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})

	if *replayFile != "" {
		return a.replay(ctx, *replayFile, *repeat, os.Stdout)
	}
	return a.serve(ctx, manager)
}

func newApp(cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg}

	lg, logCloser, err := logger.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = lg
	a.closers = append(a.closers, logCloser.Close)

	if cfg.MetricsEnabled {
		a.metrics = metrics.NewInMemoryMetrics()
	} else {
		a.metrics = metrics.NewNoOpMetrics()
	}

	if a.store, err = storage.NewLocalStore(cfg.Storage, lg); err != nil {
		return nil, err
	}

	if *remoteUpload {
		httpUploader, err := uploader.NewHTTPUploader(cfg.Upload, lg)
		if err != nil {
			return nil, err
		}
		a.uploader = httpUploader
	} else {
		a.uploader = uploader.NewDirectUploader(a.store, cfg.Upload.Folder)
	}

	guard, closeGuard, err := busy.NewGuard(cfg.Busy, lg)
	if err != nil {
		return nil, err
	}
	a.guard = guard
	a.closers = append(a.closers, closeGuard)

	if a.fetcher, err = editor.NewHTTPFetcher(cfg.Editor.FetchBaseURL, cfg.Upload.Timeout); err != nil {
		return nil, err
	}

	if a.reporter, err = telemetry.NewReporter(cfg.Telemetry, cfg.Pipeline.PlaceholderPhrases, cfg.Upload.Timeout, lg); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, a.reporter.Close)

	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("Shutdown step failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (a *app) serve(ctx context.Context, manager *config.ConfigManager) error {
	sessions := api.NewSessionManager(api.SessionDeps{
		Pipeline: a.cfg.Pipeline,
		Editor:   a.cfg.Editor,
		Uploader: a.uploader,
		Guard:    a.guard,
		Fetcher:  a.fetcher,
		Reporter: a.reporter,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})

	if *configFile != "" {
		err := manager.Watch(ctx, func(cfg *config.AppConfig) {
			sessions.UpdatePipeline(cfg.Pipeline)
			a.logger.Info("Pipeline configuration reloaded", map[string]interface{}{
				"paste_concurrency": cfg.Pipeline.PasteConcurrency,
				"drop_concurrency":  cfg.Pipeline.DropConcurrency,
				"rtf_concurrency":   cfg.Pipeline.RTFConcurrency,
			})
		}, func(err error) {
			a.logger.Warn("Ignoring invalid configuration change", map[string]interface{}{"error": err.Error()})
		})
		if err != nil {
			a.logger.Warn("Configuration hot reload disabled", map[string]interface{}{"error": err.Error()})
		}
	}

	server := api.NewServer(a.cfg, a.store, sessions, a.logger, a.metrics)
	return server.Start(ctx)
}

// replay pastes a captured payload into a fresh document repeat times and
// prints the verdict of each resulting document
func (a *app) replay(ctx context.Context, path string, repeat int, out io.Writer) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read replay file: %w", err)
	}
	var payload readers.WirePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("failed to parse replay file: %w", err)
	}
	if repeat < 1 {
		repeat = 1
	}

	failures := 0
	for i := 1; i <= repeat; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		outcome, verdict, err := a.replayOnce(ctx, &payload, i, out)
		if err != nil {
			return err
		}
		if verdict == types.VerdictFail {
			failures++
		}
		fmt.Fprintf(out, "run %d: branch=%s handled=%t uploaded=%d failed=%d post_pass=%d verdict=%s\n",
			i, outcome.Branch, outcome.Handled, outcome.Uploaded, outcome.Failed,
			outcome.PostPass.Replaced+outcome.PostPass.Removed, verdict)
	}
	fmt.Fprintf(out, "%d/%d runs passed\n", repeat-failures, repeat)
	return nil
}

func (a *app) replayOnce(ctx context.Context, payload *readers.WirePayload, run int, out io.Writer) (*core.Outcome, types.Verdict, error) {
	doc, err := editor.NewDocument("")
	if err != nil {
		return nil, "", err
	}
	orch, err := core.NewOrchestrator(a.cfg.Pipeline, core.Options{
		BusyKey:             fmt.Sprintf("replay-%d", run),
		EmulateDefaultPaste: true,
		Progress: func(completed, total int, task types.ImageTask) {
			fmt.Fprintf(out, "  %s %s\n", core.ProgressLabel(completed, total), task.Name)
		},
	}, core.Deps{
		Editor:   doc,
		Uploader: a.uploader,
		Guard:    a.guard,
		Fetcher:  a.fetcher,
		Reporter: a.reporter,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, "", err
	}

	outcome, err := orch.HandlePaste(ctx, readers.NewWireSource(payload))
	orch.Wait()
	if err != nil {
		return nil, "", err
	}
	verdict, _ := telemetry.LocalVerdict(doc.Text(), doc.HTML(), a.cfg.Pipeline.PlaceholderPhrases)
	return outcome, verdict, nil
}

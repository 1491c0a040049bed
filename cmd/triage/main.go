// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command triage runs an automated failure-triage session against a test
// suite: it executes the tests, asks an LLM oracle to diagnose the failure
// from the run log, lets the oracle inspect the project through a fixed set
// of read-only tools, and produces a patch suggestion a human approves or
// rejects from Telegram or the console.
//
// Usage:
//
//	# Triage the project in the current directory with embedded defaults
//	# (requires GEMINI_API_KEY).
//	triage run
//
//	# Triage another project with a config file and the status surface.
//	triage run --config triage.yaml --project /path/to/repo --status-port 8768
//
//	# Re-apply the most recent stored fix without a new oracle session.
//	triage apply --project /path/to/repo
//
// Credentials come from the environment: the oracle key from GEMINI_API_KEY,
// OPENAI_API_KEY or ANTHROPIC_API_KEY depending on the configured provider,
// and the optional Telegram channel from TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID. Tracing is off unless TRIAGE_OTLP_ENDPOINT names an
// OTLP/gRPC collector or TRIAGE_TRACE_STDOUT=1 selects the stdout exporter.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/llm/egress"
	"github.com/AleutianAI/AleutianTriage/services/patch"
	"github.com/AleutianAI/AleutianTriage/services/triage"
	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
	"github.com/AleutianAI/AleutianTriage/services/triage/config"
	"github.com/AleutianAI/AleutianTriage/services/triage/messaging"
	"github.com/AleutianAI/AleutianTriage/services/triage/runner"
	"github.com/AleutianAI/AleutianTriage/services/triage/tools"
	"github.com/AleutianAI/AleutianTriage/services/triage/vcs"
	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const triageVersion = "0.1.0"

// configPath, projectFlag, debugMode and statusPort hold flag values shared
// by the subcommands.
var (
	configPath  string
	projectFlag string
	debugMode   bool
	statusPort  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "triage",
		Short: "Automated test-failure triage with an LLM oracle",
		Long: `Aleutian Triage runs a project's test suite, diagnoses the failure with
an LLM oracle, drives a bounded tool-use loop to a concrete fix
suggestion, and leaves the decision to apply it with a human.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a triage.yaml; empty uses the embedded defaults")
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "Project directory; overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a triage session: test, diagnose, repair, report",
		Run:   runTriageCommand,
	}
	runCmd.Flags().IntVar(&statusPort, "status-port", 0, "Serve /v1/triage and /metrics on this port (0 disables)")

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the most recent stored fix without a new oracle session",
		Run:   runApplyCommand,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("aleutian-triage " + triageVersion)
		},
	}

	rootCmd.AddCommand(runCmd, applyCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runTriageCommand wires the full session: oracle chain, runner, git,
// messaging, status surface, then hands control to the controller until
// the human terminates or the token budget runs out.
func runTriageCommand(_ *cobra.Command, _ []string) {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT/SIGTERM cancel the session context; the controller unwinds
	// from whatever it was blocked on.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutdown signal received, ending session")
		cancel()
	}()

	shutdownTracing, err := initTracing(ctx)
	if err != nil {
		log.Fatalf("Tracing setup failed: %v", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	cfg, err := loadConfig(ctx)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if statusPort > 0 {
		cfg.Status.Port = statusPort
	}

	// === Oracle Chain ===

	secrets := egress.NewSecretManager(15 * time.Minute)
	keyVar := llm.CredentialEnvVar(cfg.Oracle.Provider)
	apiKey, err := secrets.GetSecret(ctx, keyVar)
	if err != nil {
		log.Fatalf("Oracle credential missing: set %s (%v)", keyVar, err)
	}

	inner, err := llm.NewProviderClient(cfg.Oracle.Provider, apiKey, cfg.Oracle.Model, cfg.Oracle.BaseURL)
	if err != nil {
		log.Fatalf("Oracle client setup failed: %v", err)
	}

	budget := egress.NewTokenBudget("TRIAGE", cfg.Oracle.MaxSessionTokens)
	var limiter *egress.RateLimiter
	if cfg.Oracle.RequestsPerMinute > 0 {
		limiter = egress.NewRateLimiter(map[string]int{
			cfg.Oracle.Provider: cfg.Oracle.RequestsPerMinute,
		})
	}
	session := triage.NewSession(budget)

	var oracle llm.Client = egress.NewGuardClient(inner, limiter, budget,
		cfg.Oracle.Provider, cfg.Oracle.Model, session.ID, slog.Default())

	// The reply cache sits outside the guard: a cache hit spends neither
	// rate-limit slots nor session tokens.
	if cfg.Oracle.CacheDir != "" {
		opts := dgbadger.DefaultOptions(cfg.Oracle.CacheDir).WithLogger(nil)
		db, derr := dgbadger.Open(opts)
		if derr != nil {
			slog.Warn("Oracle reply cache unavailable, continuing uncached",
				slog.String("path", cfg.Oracle.CacheDir),
				slog.String("error", derr.Error()),
			)
		} else {
			defer db.Close()
			cache := llm.NewReplyCache(db, time.Duration(cfg.Oracle.CacheTTLHours)*time.Hour, slog.Default())
			oracle = llm.NewCachedClient(oracle, cache, cfg.Oracle.Model, slog.Default())
			slog.Info("Oracle reply cache opened", slog.String("path", cfg.Oracle.CacheDir))
		}
	}

	// === Collaborators ===

	run, err := runner.New(cfg.Project.Root, cfg.Runner.Command,
		resolveUnderRoot(cfg.Project.Root, cfg.Runner.LogDir),
		time.Duration(cfg.Runner.TimeoutSeconds)*time.Second, slog.Default())
	if err != nil {
		log.Fatalf("Runner setup failed: %v", err)
	}

	store, err := artifacts.NewStore(resolveUnderRoot(cfg.Project.Root, cfg.Artifacts.Dir), slog.Default())
	if err != nil {
		log.Fatalf("Artifact store setup failed: %v", err)
	}

	var git *vcs.Manager
	if cfg.Git.Enabled {
		g, gerr := vcs.NewManager(cfg.Project.Root, cfg.Git.BranchName, slog.Default())
		if gerr != nil {
			slog.Warn("Git integration disabled", slog.String("error", gerr.Error()))
		} else {
			git = g
		}
	}

	messenger, err := messaging.New(ctx, cfg.Messaging.Mode,
		time.Duration(cfg.Messaging.PollTimeoutSeconds)*time.Second, secrets, slog.Default())
	if err != nil {
		log.Fatalf("Messaging setup failed: %v", err)
	}

	controller, err := triage.NewController(cfg, oracle, store, run, git, messenger, session, slog.Default())
	if err != nil {
		log.Fatalf("Controller setup failed: %v", err)
	}

	// === Background Surfaces ===

	if configPath != "" {
		watcher, werr := config.NewWatcher(configPath, controller.UpdateConfig, slog.Default())
		if werr != nil {
			slog.Warn("Config watch unavailable", slog.String("error", werr.Error()))
		} else {
			go watcher.Start(ctx)
		}
	}

	if cfg.Status.Port > 0 {
		go startStatusServer(cfg.Status.Port, store, session)
	}

	var archiver *artifacts.Archiver
	if cfg.Artifacts.ArchiveBucket != "" {
		archiver, err = artifacts.NewArchiver(ctx, cfg.Artifacts.ArchiveBucket,
			cfg.Artifacts.CredentialsFile, slog.Default())
		if err != nil {
			slog.Warn("Artifact archiving unavailable", slog.String("error", err.Error()))
			archiver = nil
		}
	}

	// === Session ===

	printBanner(cfg, session.ID)

	err = controller.Start(ctx)

	// Archive whatever the session produced, including partial results
	// from a failed run.
	archiveArtifacts(archiver, store, session.ID)

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Session failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("Session complete",
		slog.String("session_id", session.ID),
		slog.String("budget", budget.Summary()),
	)
}

// runApplyCommand re-applies the most recent stored fix. No test run, no
// oracle: just the patch engine against the fix's target file, plus the
// usual branch-and-commit when git integration is on.
func runApplyCommand(_ *cobra.Command, _ []string) {
	setupLogging()
	ctx := context.Background()

	cfg, err := loadConfig(ctx)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	store, err := artifacts.NewStore(resolveUnderRoot(cfg.Project.Root, cfg.Artifacts.Dir), slog.Default())
	if err != nil {
		log.Fatalf("Artifact store setup failed: %v", err)
	}

	fix, fixPath, err := store.LatestFix(ctx)
	if err != nil {
		log.Fatalf("No stored fix to apply: %v", err)
	}
	target := fix.TargetFile()
	if target == "" {
		log.Fatalf("Stored fix %s names no target file", fixPath)
	}

	path := tools.ResolvePath(cfg.Project.Root, target)
	res, err := patch.ApplyToFile(path, fix.PatchSuggestion)
	if err != nil {
		log.Fatalf("Patch failed for %s: %v", path, err)
	}
	fmt.Printf("Applied %d/%d hunks to %s\n", res.Applied, res.Total, path)

	if !cfg.Git.Enabled {
		return
	}
	git, err := vcs.NewManager(cfg.Project.Root, cfg.Git.BranchName, slog.Default())
	if err != nil {
		slog.Warn("Commit skipped", slog.String("error", err.Error()))
		return
	}
	if !git.PrepareBranch(ctx) {
		slog.Warn("Fix branch unavailable, committing on current branch",
			slog.String("branch", cfg.Git.BranchName))
	}
	if git.StageAndCommit(ctx, path, fix.Reason) {
		fmt.Printf("Committed on branch %s\n", cfg.Git.BranchName)
	} else {
		slog.Warn("Commit failed, fix left in working tree")
	}
}

// setupLogging installs the default slog handler. Logs go to stderr so
// stdout stays clean for the banner and the console messenger.
func setupLogging() {
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig loads the file named by --config, or the embedded defaults,
// and applies the --project override. The project root is made absolute
// so collaborators agree on paths regardless of where triage was started.
func loadConfig(ctx context.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfigFile(ctx, configPath)
	} else {
		cfg, err = config.GetConfig(ctx)
	}
	if err != nil {
		return nil, err
	}

	// GetConfig hands back the shared cached instance; copy before
	// applying flag overrides.
	cp := *cfg
	cfg = &cp

	if projectFlag != "" {
		cfg.Project.Root = projectFlag
	}
	abs, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root %s: %w", cfg.Project.Root, err)
	}
	cfg.Project.Root = abs
	return cfg, nil
}

// resolveUnderRoot anchors a configured directory to the project root
// unless it is already absolute.
func resolveUnderRoot(root, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// initTracing installs the W3C propagator and, when an exporter is
// configured, a batching tracer provider. TRIAGE_OTLP_ENDPOINT selects the
// OTLP/gRPC exporter, TRIAGE_TRACE_STDOUT=1 the stdout exporter; with
// neither set the global no-op provider stays in place.
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var exporter sdktrace.SpanExporter
	switch {
	case os.Getenv("TRIAGE_OTLP_ENDPOINT") != "":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(os.Getenv("TRIAGE_OTLP_ENDPOINT")),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		exporter = exp
	case os.Getenv("TRIAGE_TRACE_STDOUT") == "1":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		exporter = exp
	default:
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", "aleutian-triage"),
		attribute.String("service.version", triageVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// startStatusServer serves the read-only status surface plus Prometheus
// metrics. Blocks; run it in its own goroutine.
func startStatusServer(port int, store *artifacts.Store, session *triage.Session) {
	if !debugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-triage"))

	v1 := router.Group("/v1")
	triage.RegisterRoutes(v1, triage.NewHandlers(store, session))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf(":%d", port)
	slog.Info("Status server listening", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Status server failed", slog.String("error", err.Error()))
	}
}

// archiveArtifacts uploads the session's artifact tree to the configured
// bucket. Best effort: failures are logged, never fatal.
func archiveArtifacts(archiver *artifacts.Archiver, store *artifacts.Store, sessionID string) {
	if archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := archiver.ArchiveSession(ctx, store, sessionID); err != nil {
		slog.Warn("Artifact archive failed", slog.String("error", err.Error()))
	}
	if err := archiver.Close(); err != nil {
		slog.Warn("Archiver close failed", slog.String("error", err.Error()))
	}
}

func printBanner(cfg *config.Config, sessionID string) {
	statusLine := "disabled"
	if cfg.Status.Port > 0 {
		statusLine = fmt.Sprintf("http://localhost:%d/v1/triage/status", cfg.Status.Port)
	}

	banner := `
╔════════════════════════════════════════════════════════════╗
║                       ALEUTIAN TRIAGE                      ║
╠════════════════════════════════════════════════════════════╣
║  Runs the tests, asks the oracle what broke and how to     ║
║  fix it, and waits for your decision on each pass.         ║
╚════════════════════════════════════════════════════════════╝
  Session:  %s
  Project:  %s
  Command:  %s
  Oracle:   %s (%s)
  Status:   %s

`
	fmt.Printf(banner, sessionID, cfg.Project.Root, cfg.Runner.Command,
		cfg.Oracle.Model, cfg.Oracle.Provider, statusLine)
}

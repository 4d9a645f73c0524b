// Switchboard is a customer-support chat pipeline. Each message passes
// an input filter, is classified by a small model, and is answered by a
// knowledge responder (retrieval plus web search) or a support responder
// (account lookups via tools), with handoff to humans when needed.
//
// Usage:
//
//	switchboard serve                               Start the API server
//	switchboard init [dir]                          Write an example config to dir
//	switchboard ask <user_key> <message>            Run one message through the pipeline
//	switchboard ingest <file|url>... | --seed       Add documents to the knowledge base
//	switchboard user add <username> <password> [key]
//	switchboard cleanup                             Deactivate expired sessions
//	switchboard version                             Print build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nugget/switchboard/internal/api"
	"github.com/nugget/switchboard/internal/buildinfo"
	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/connwatch"
	"github.com/nugget/switchboard/internal/embeddings"
	"github.com/nugget/switchboard/internal/escalation"
	"github.com/nugget/switchboard/internal/guardrails"
	"github.com/nugget/switchboard/internal/history"
	"github.com/nugget/switchboard/internal/knowledge"
	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/orchestrator"
	"github.com/nugget/switchboard/internal/responder"
	"github.com/nugget/switchboard/internal/router"
	"github.com/nugget/switchboard/internal/search"
	"github.com/nugget/switchboard/internal/session"
	"github.com/nugget/switchboard/internal/store"
	"github.com/nugget/switchboard/internal/support"
	"github.com/nugget/switchboard/internal/tools"
	"github.com/nugget/switchboard/internal/usage"
)

// main builds the OS environment and hands off to run so the command
// surface can be driven from tests.
func main() {
	ctx := context.Background()

	// A missing .env is normal; only a malformed one is worth mentioning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses args by hand to avoid the flag package's globals and
// dispatches to a subcommand.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath, outputFmt, command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) < 2 {
			return errors.New("usage: switchboard ask <user_key> <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0], strings.Join(cmdArgs[1:], " "))
	case "ingest":
		if len(cmdArgs) == 0 {
			return errors.New("usage: switchboard ingest <file|url>... | --seed")
		}
		return runIngest(ctx, stdout, stderr, configPath, cmdArgs)
	case "user":
		if len(cmdArgs) < 3 || cmdArgs[0] != "add" {
			return errors.New("usage: switchboard user add <username> <password> [key]")
		}
		key := ""
		if len(cmdArgs) > 3 {
			key = cmdArgs[3]
		}
		return runUserAdd(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[1], cmdArgs[2], key)
	case "cleanup":
		return runCleanup(ctx, stdout, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Switchboard - customer support chat pipeline")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: switchboard [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                                   Start the API server")
	fmt.Fprintln(w, "  init [dir]                              Write an example config (default: .)")
	fmt.Fprintln(w, "  ask <user_key> <message>                Run one message through the pipeline")
	fmt.Fprintln(w, "  ingest <file|url>... | --seed           Add documents to the knowledge base")
	fmt.Fprintln(w, "  user add <username> <password> [key]    Register a user")
	fmt.Fprintln(w, "  cleanup                                 Deactivate expired sessions")
	fmt.Fprintln(w, "  version                                 Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// app is the assembled pipeline shared by serve and ask.
type app struct {
	cfg        *config.Config
	store      *store.Store
	llm        llm.Client
	sessions   *session.Manager
	history    *history.Window
	router     *router.Router
	knowledge  *knowledge.Store
	usage      *usage.Store
	escalation *escalation.Handler
	mqtt       *escalation.MQTTNotifier
	pipeline   *orchestrator.Orchestrator
}

func (a *app) Close() error {
	return a.store.Close()
}

// bootstrap opens the database and wires every pipeline stage. The
// MQTT notifier, when configured, is created but not started.
func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st}

	a.llm, err = createLLMClient(ctx, cfg, logger, llm.NewOllamaClient(cfg.Models.OllamaURL, logger))
	if err != nil {
		st.Close()
		return nil, err
	}

	a.usage, err = usage.NewStore(st.DB())
	if err != nil {
		st.Close()
		return nil, err
	}
	metered := func(stage string) llm.Client {
		return usage.NewMeter(a.llm, a.usage, stage, cfg.Pricing, logger)
	}

	a.knowledge, err = knowledge.NewStore(st.DB(), createEmbedder(cfg, logger), logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}

	patterns := guardrails.DefaultPatterns()
	if cfg.Guardrails.PatternsFile != "" {
		if patterns, err = guardrails.LoadPatterns(cfg.Guardrails.PatternsFile); err != nil {
			st.Close()
			return nil, err
		}
		logger.Info("guardrail patterns loaded", "path", cfg.Guardrails.PatternsFile)
	}

	a.sessions = session.NewManager(st, logger)
	a.history = history.NewWindow(st, cfg.Session.HistoryPairs, logger)
	a.router = router.NewRouter(logger, metered("router"), router.Config{Model: cfg.Models.Router})

	toolReg := tools.NewRegistry(logger)
	support.RegisterTools(toolReg, support.NewMockBackend(logger))

	registry := responder.NewRegistry(
		responder.NewKnowledge(logger, metered("knowledge"), a.knowledge, createSearch(cfg, logger), responder.KnowledgeConfig{
			Model: cfg.Models.Knowledge,
		}),
		responder.NewSupport(logger, metered("support"), toolReg, responder.SupportConfig{
			Model: cfg.Models.Support,
		}),
	)

	var notifier escalation.Notifier
	notifier, a.mqtt, err = createNotifier(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.escalation = escalation.NewHandler(escalation.Config{
		Cooldown:   time.Duration(cfg.Escalation.CooldownMinutes) * time.Minute,
		MaxEntries: cfg.Escalation.MaxEntries,
		MaxAge:     time.Duration(cfg.Escalation.MaxAgeHours) * time.Hour,
		Channel:    cfg.Escalation.Slack.Channel,
	}, notifier, logger)

	a.pipeline = orchestrator.New(orchestrator.Deps{
		Users:      st,
		Turns:      st,
		Sessions:   a.sessions,
		History:    a.history,
		Guardrails: guardrails.New(patterns, logger),
		Router:     a.router,
		Responders: registry,
		Escalation: a.escalation,
	}, orchestrator.Config{
		SessionTimeout: cfg.Session.Timeout(),
		HistoryPairs:   cfg.Session.HistoryPairs,
	}, logger)

	return a, nil
}

// runServe starts the API server and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Switchboard", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"router_model", cfg.Models.Router,
		"session_timeout", cfg.Session.Timeout(),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	health := connwatch.NewManager(logger)
	defer health.Stop()
	if err := health.Watch(ctx, connwatch.Target{
		Name:     "llm",
		Probe:    a.llm.Ping,
		Required: true,
	}); err != nil {
		return err
	}

	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			logger.Error("mqtt escalations unavailable", "error", err)
		} else {
			if err := health.Watch(ctx, connwatch.Target{
				Name:    "mqtt",
				Probe:   a.mqtt.AwaitConnection,
				Backoff: connwatch.Backoff{Timeout: 2 * time.Second},
			}); err != nil {
				return err
			}
		}
	}

	go session.NewJanitor(a.sessions, cfg.Session.CleanupInterval(), logger).Start(ctx)

	server := api.NewServer(net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port)), api.Deps{
		Chat:      a.pipeline,
		Accounts:  a.store,
		Sessions:  a.sessions,
		History:   a.history,
		Router:    a.router,
		Knowledge: a.knowledge,
		Usage:     a.usage,
		Health:    health,
	}, logger)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		a.escalation.Wait()
		if a.mqtt != nil {
			if err := a.mqtt.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	<-stopped

	logger.Info("Switchboard stopped")
	return nil
}

// runAsk runs a single message through the full pipeline, as the API
// would, and prints the reply.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, userKey, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// MQTT is skipped here; a one-shot does not hold a broker session.
	resp, err := a.pipeline.ProcessMessage(ctx, message, userKey)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	a.escalation.Wait()

	if outputFmt == "json" {
		return writeJSON(stdout, resp)
	}
	fmt.Fprintln(stdout, resp.Response)
	fmt.Fprintf(stdout, "\n[agent: %s]\n", resp.AgentUsed)
	return nil
}

// runIngest chunks and stores files or URLs. --seed ingests the
// built-in product pages.
func runIngest(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	embedder := createEmbedder(cfg, logger)
	ks, err := knowledge.NewStore(st.DB(), embedder, logger)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}

	var sources []string
	for _, arg := range args {
		if arg == "--seed" {
			sources = append(sources, knowledge.SeedURLs...)
			continue
		}
		sources = append(sources, arg)
	}

	ingester := knowledge.NewIngester(ks, embedder, nil, nil, logger)
	total, failures := ingester.IngestAll(ctx, sources)
	for src, ferr := range failures {
		fmt.Fprintf(stderr, "failed: %s: %v\n", src, ferr)
	}
	fmt.Fprintf(stdout, "Ingested %d chunks from %d of %d sources\n", total, len(sources)-len(failures), len(sources))
	if len(failures) == len(sources) {
		return errors.New("ingest: every source failed")
	}
	return nil
}

func runUserAdd(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, username, password, key string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, configuredLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer st.Close()

	u, err := st.CreateUser(ctx, strings.ToLower(username), password, key)
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	if outputFmt == "json" {
		return writeJSON(stdout, u)
	}
	fmt.Fprintf(stdout, "Created user %s (key %s)\n", u.Username, u.Key)
	return nil
}

func runCleanup(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := session.NewManager(st, logger).CleanupExpired(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Fprintf(stdout, "Deactivated %d expired sessions\n", n)
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "switchboard.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// createLLMClient maps each configured model to its provider. Models
// not explicitly mapped fall through to Ollama.
func createLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, ollamaClient *llm.OllamaClient) (llm.Client, error) {
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}
	if cfg.Ark.Configured() {
		ark, err := llm.NewArkClient(ctx, llm.ArkConfig{
			APIKey:  cfg.Ark.APIKey,
			BaseURL: cfg.Ark.BaseURL,
			Region:  cfg.Ark.Region,
			Model:   cfg.Ark.Model,
		}, logger)
		if err != nil {
			return nil, err
		}
		multi.AddProvider("ark", ark)
		multi.AddModel(cfg.Ark.Model, "ark")
		logger.Info("Ark provider configured", "model", cfg.Ark.Model)
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	logger.Info("LLM client initialized",
		"router", cfg.Models.Router,
		"knowledge", cfg.Models.Knowledge,
		"support", cfg.Models.Support,
	)
	return multi, nil
}

// createEmbedder returns nil when embeddings are disabled, leaving the
// knowledge store on lexical search.
func createEmbedder(cfg *config.Config, logger *slog.Logger) knowledge.Embedder {
	if !cfg.Embeddings.Enabled {
		return nil
	}
	return embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	}, logger)
}

// createSearch registers every configured web search provider. When the
// configured primary has no credentials, another configured provider
// takes its place.
func createSearch(cfg *config.Config, logger *slog.Logger) responder.WebSearcher {
	var providers []search.Provider
	if cfg.Search.Tavily.Configured() {
		providers = append(providers, search.NewTavily(cfg.Search.Tavily, logger))
	}
	if cfg.Search.Brave.Configured() {
		providers = append(providers, search.NewBrave(cfg.Search.Brave, logger))
	}
	if len(providers) == 0 {
		logger.Info("web search disabled (no provider configured)")
		return nil
	}

	primary := cfg.Search.Primary
	found := false
	for _, p := range providers {
		found = found || p.Name() == primary
	}
	if !found {
		logger.Warn("primary search provider not configured, falling back",
			"primary", primary, "fallback", providers[0].Name())
		primary = providers[0].Name()
	}

	mgr := search.NewManager(primary, logger)
	for _, p := range providers {
		mgr.Register(p)
	}
	logger.Info("web search enabled", "primary", primary, "providers", mgr.Providers())
	return mgr
}

// createNotifier fans escalations out to every configured channel. With
// none configured, notices are only logged. The MQTT notifier is
// returned separately so the caller can manage its connection.
func createNotifier(cfg *config.Config, logger *slog.Logger) (escalation.Notifier, *escalation.MQTTNotifier, error) {
	ec := cfg.Escalation
	var notifiers []escalation.Notifier
	var mqtt *escalation.MQTTNotifier

	if ec.Slack.Configured() {
		notifiers = append(notifiers, escalation.NewSlackNotifier(ec.Slack, logger))
	}
	if ec.MQTT.Configured() {
		mqtt = escalation.NewMQTTNotifier(ec.MQTT, logger)
		notifiers = append(notifiers, mqtt)
	}
	if ec.GitHub.Configured() {
		gh, err := escalation.NewGitHubNotifier(ec.GitHub, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, gh)
	}
	if ec.Email.Configured() {
		notifiers = append(notifiers, escalation.NewEmailNotifier(ec.Email, logger))
	}

	if len(notifiers) == 0 {
		logger.Info("no escalation channel configured, notices will be logged")
		return escalation.NewLogNotifier(logger), nil, nil
	}
	multi := escalation.NewMultiNotifier(notifiers...)
	logger.Info("escalation notifiers configured", "count", multi.Len())
	return multi, mqtt, nil
}

// newLogger creates a structured logger writing to w. Any format other
// than "json" produces text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLogger applies the config's level and format. The level was
// validated at load.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(w, level, cfg.LogFormat)
}

// loadConfig locates and parses the YAML configuration. Returns the
// parsed config and the path it came from.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

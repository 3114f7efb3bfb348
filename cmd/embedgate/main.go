// Package main is the embedgate CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedgate/internal/cli"
	"github.com/hyperjump/embedgate/internal/config"
	"github.com/hyperjump/embedgate/internal/ingest"
	"github.com/hyperjump/embedgate/internal/server"
	"github.com/hyperjump/embedgate/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/embedgate/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "embed":
		runEmbed()
	case "batch":
		runBatch()
	case "providers":
		runProviders()
	case "usage":
		runUsage()
	case "health":
		runHealth()
	case "status":
		runStatus()
	case "stats":
		runStats()
	case "cache":
		runCache()
	case "watch":
		runWatch()
	case "documents":
		runDocuments()
	case "ingest":
		runIngest()
	case "version", "--version", "-v":
		fmt.Printf("embedgate version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (requests, cache state, file ingestion)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.Strings("providers", cfg.Providers.EnabledNames()),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()

	in := components.Ingester
	watchSvc := ingest.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(path string) {
			if _, err := in.IngestFile(watchCtx, path); err != nil {
				logger.Warn("watch ingest file failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			if err := in.RemoveFile(watchCtx, path); err != nil {
				logger.Warn("watch remove file failed", zap.String("path", path), zap.Error(err))
			}
		},
		ingest.WithWatcherLogger(logger),
	)
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	server.Version = version
	srv := server.NewServer(components.Gateway, cfg, logger,
		server.WithMetrics(components.Metrics),
		server.WithStatusSource(components.Storage),
		server.WithDocuments(components.Storage),
		server.WithWatch(watchSvc, resolvedConfigPath),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// clientFlags are shared by the commands that talk to a running server.
type clientFlags struct {
	server  *string
	apiKey  *string
	output  *string
	timeout *time.Duration
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	return &clientFlags{
		server:  fs.String("server", defaultServerURL, "server URL"),
		apiKey:  fs.String("api-key", os.Getenv("EMBEDGATE_API_KEY"), "API key (default: $EMBEDGATE_API_KEY)"),
		output:  fs.String("output", "text", "output format: text or json"),
		timeout: fs.Duration("timeout", 60*time.Second, "request timeout"),
	}
}

func (f *clientFlags) client() *cli.Client {
	return cli.NewClient(*f.server, *f.apiKey, *f.timeout)
}

func (f *clientFlags) format() cli.OutputFormat {
	format, err := cli.ParseFormat(*f.output)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front of the slice so that flag.Parse() sees
// them. Go's flag package stops at the first non-flag argument, so
// "embedgate embed hello world -provider ollama" would otherwise treat
// -provider as text.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildText joins all positional args with spaces so multi-word input
// works the same with or without shell quoting.
func buildText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runEmbed() {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	cf := addClientFlags(fs)
	model := fs.String("model", "", "model name (default: provider default)")
	providerName := fs.String("provider", "", "provider name (default: server default)")
	noCache := fs.Bool("no-cache", false, "bypass the embedding cache")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	text := buildText(fs.Args())
	if text == "" {
		fmt.Println("Usage: embedgate embed [flags] <text>")
		os.Exit(1)
	}
	format := cf.format()
	resp, err := cf.client().Embed(context.Background(), text, *model, *providerName, !*noCache)
	if err != nil {
		fatalf("Embed failed: %v", err)
	}
	if err := cli.WriteEmbedding(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runBatch() {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	cf := addClientFlags(fs)
	model := fs.String("model", "", "model name (default: provider default)")
	providerName := fs.String("provider", "", "provider name (default: server default)")
	noCache := fs.Bool("no-cache", false, "bypass the embedding cache")
	file := fs.String("file", "", "read texts from file, one per line (- for stdin)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	texts := fs.Args()
	if *file != "" {
		var err error
		texts, err = readTextsFrom(*file)
		if err != nil {
			fatalf("Read texts failed: %v", err)
		}
	}
	if len(texts) == 0 {
		fmt.Println("Usage: embedgate batch [flags] <text>... | --file <path>")
		os.Exit(1)
	}
	format := cf.format()
	resp, err := cf.client().EmbedBatch(context.Background(), texts, *model, *providerName, !*noCache)
	if err != nil {
		fatalf("Batch embed failed: %v", err)
	}
	if err := cli.WriteBatch(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func readTextsFrom(path string) ([]string, error) {
	if path == "-" {
		return cli.ReadTexts(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return cli.ReadTexts(f)
}

func runProviders() {
	fs := flag.NewFlagSet("providers", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(os.Args[2:])

	format := cf.format()
	resp, err := cf.client().Providers(context.Background())
	if err != nil {
		fatalf("Providers failed: %v", err)
	}
	if err := cli.WriteProviders(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runUsage() {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(os.Args[2:])

	format := cf.format()
	usage, err := cf.client().Usage(context.Background())
	if err != nil {
		fatalf("Usage failed: %v", err)
	}
	if err := cli.WriteUsage(os.Stdout, usage, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runHealth() {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(os.Args[2:])

	format := cf.format()
	health, err := cf.client().Health(context.Background())
	if err != nil {
		fatalf("Health failed: %v", err)
	}
	if err := cli.WriteHealth(os.Stdout, health, format); err != nil {
		fatalf("Output failed: %v", err)
	}
	if health.Status != "healthy" {
		os.Exit(2)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(os.Args[2:])

	format := cf.format()
	status, err := cf.client().Status(context.Background())
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(os.Args[2:])

	format := cf.format()
	stats, err := cf.client().Stats(context.Background())
	if err != nil {
		fatalf("Stats failed: %v", err)
	}
	if err := cli.WriteStats(os.Stdout, stats, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runCache() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: embedgate cache <info|clear> [flags]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(os.Args[3:])

	format := cf.format()
	c := cf.client()
	switch sub {
	case "info":
		info, err := c.CacheInfo(context.Background())
		if err != nil {
			fatalf("Cache info failed: %v", err)
		}
		if err := cli.WriteCacheInfo(os.Stdout, info, format); err != nil {
			fatalf("Output failed: %v", err)
		}
	case "clear":
		removed, err := c.ClearCache(context.Background())
		if err != nil {
			fatalf("Cache clear failed: %v", err)
		}
		if format == cli.OutputJSON {
			_ = cli.WriteJSON(os.Stdout, map[string]int{"removed": removed})
			return
		}
		fmt.Printf("Cleared %d cache entries\n", removed)
	default:
		fatalf("Unknown cache subcommand: %s", sub)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: embedgate watch <add|remove|list> [path]")
		fmt.Println("  embedgate watch add <path>     Add directory to watch")
		fmt.Println("  embedgate watch remove <path>  Remove directory from watch")
		fmt.Println("  embedgate watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cf := addClientFlags(fs)
	noSync := fs.Bool("no-sync", false, "do not ingest files already in the directory (add only)")
	_ = fs.Parse(argsReorder(os.Args[3:]))

	c := cf.client()
	ctx := context.Background()
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: embedgate watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := c.WatchAdd(ctx, path, !*noSync); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: embedgate watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := c.WatchRemove(ctx, path); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		dirs, err := c.WatchList(ctx)
		if err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

func runDocuments() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: embedgate documents <list|show> [flags] [id]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	cf := addClientFlags(fs)
	offset := fs.Int("offset", 0, "list: number of documents to skip")
	limit := fs.Int("limit", 50, "list: maximum number of documents")
	path := fs.String("path", "", "list: only the document ingested from this path")
	vectors := fs.Bool("embeddings", false, "show: include chunk vectors")
	_ = fs.Parse(argsReorder(os.Args[3:]))

	format := cf.format()
	c := cf.client()
	ctx := context.Background()
	switch sub {
	case "list":
		p := *path
		if p != "" {
			p, _ = filepath.Abs(p)
		}
		docs, err := c.Documents(ctx, *offset, *limit, p)
		if err != nil {
			fatalf("List documents failed: %v", err)
		}
		if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
			fatalf("Output failed: %v", err)
		}
	case "show":
		if fs.NArg() < 1 {
			fatalf("Usage: embedgate documents show [flags] <id>")
		}
		doc, err := c.Document(ctx, fs.Arg(0), *vectors)
		if err != nil {
			fatalf("Show document failed: %v", err)
		}
		if err := cli.WriteDocument(os.Stdout, doc, format); err != nil {
			fatalf("Output failed: %v", err)
		}
	default:
		fatalf("Unknown documents subcommand: %s", sub)
	}
}

// runIngest embeds files directly through a local gateway, without a server.
func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: embedgate ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, err := os.Stat(path)
	if err != nil {
		fatalf("Failed to stat path: %v", err)
	}
	if info.IsDir() {
		n, err := components.Ingester.IngestDirectory(ctx, path)
		if err != nil {
			fatalf("Ingesting directory failed after %d file(s): %v", n, err)
		}
		fmt.Printf("Ingested %d file(s) from %s\n", n, path)
		return
	}
	outcome, err := components.Ingester.IngestFile(ctx, path)
	if err != nil {
		fatalf("Ingesting failed: %v", err)
	}
	fmt.Printf("%s: %s\n", path, outcome)
}

func printUsage() {
	fmt.Println(`embedgate - Embedding gateway with rate limiting, caching and provider failover

Usage:
  embedgate server [flags]                 Start the HTTP server
  embedgate embed [flags] <text>           Embed one text
  embedgate batch [flags] <text>...        Embed several texts in one request
  embedgate providers [flags]              List providers and their availability
  embedgate usage [flags]                  Show rate limit usage for your key
  embedgate health [flags]                 Show service health
  embedgate status [flags]                 Show ingestion status
  embedgate stats [flags]                  Show gateway counters (admin)
  embedgate cache <info|clear> [flags]     Inspect or clear the cache (admin)
  embedgate watch <add|remove|list>        Manage watched directories (admin)
  embedgate documents <list|show> [flags]  Inspect ingested documents and chunks
  embedgate ingest [flags] <path>          Ingest a file or directory without a server
  embedgate version                        Show version
  embedgate help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/embedgate/config.yaml)
  --debug            Enable debug logging

Client Flags (embed, batch, providers, usage, health, status, stats, cache, watch, documents):
  --server string    Server URL (default: http://localhost:8080)
  --api-key string   API key (default: $EMBEDGATE_API_KEY)
  --output string    Output format: text or json (default: text)
  --timeout duration Request timeout (default: 1m)

Embed/Batch Flags:
  --model string     Model name (default: provider default)
  --provider string  Provider name (default: server default)
  --no-cache         Bypass the embedding cache
  --file string      Batch only: read texts from file, one per line (- for stdin)

Documents Flags:
  --offset int       List: documents to skip (default: 0)
  --limit int        List: maximum documents (default: 50)
  --path string      List: only the document ingested from this path
  --embeddings       Show: include chunk vectors

Examples:
  embedgate server
  embedgate embed "the quick brown fox"
  embedgate embed --provider huggingface --output json hello world
  embedgate batch --file texts.txt
  embedgate cache clear --api-key admin-secret
  embedgate watch add /path/to/docs
  embedgate documents list --limit 10
  embedgate ingest ./docs`)
}

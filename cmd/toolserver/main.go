// Command toolserver runs the sidecar capability server: the built-in
// tool set plus any configured MCP sources, behind one JSON-RPC entry
// point with an approval queue for sensitive actions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/embedder"
	"github.com/azraeltruthsay/gaia-sub000/pkg/logger"
	"github.com/azraeltruthsay/gaia-sub000/pkg/tools"
	"github.com/azraeltruthsay/gaia-sub000/pkg/vector"
	"github.com/azraeltruthsay/gaia-sub000/pkg/version"
)

const approvalTTL = time.Hour

type CLI struct {
	Config     string   `short:"c" default:"/shared/constants.json" help:"Path to the constants file (or key for consul/etcd)."`
	ConfigType string   `default:"file" enum:"file,consul,etcd" help:"Config source."`
	Endpoints  []string `help:"Consul/etcd endpoints."`
	Listen     string   `default:":8300" help:"HTTP listen address."`
	LogLevel   string   `default:"info" help:"Log level (debug, info, warn, error)."`
	Version    bool     `help:"Print version and exit."`
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	kong.Parse(&cli,
		kong.Name("gaia-toolserver"),
		kong.Description("GAIA tool/capability server"),
		kong.UsageOnError(),
	)
	if cli.Version {
		fmt.Println(version.Version)
		return
	}

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, "simple")
	log := slog.Default()

	if err := run(cli, log); err != nil {
		log.Error("Tool server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cli CLI, log *slog.Logger) error {
	loader, err := config.NewLoader(config.LoaderOptions{
		Type:      config.ConfigType(cli.ConfigType),
		Path:      cli.Config,
		Endpoints: cli.Endpoints,
	})
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(cfg.Tools.SensitiveTools)
	if err := registerBuiltins(registry, cfg); err != nil {
		return err
	}

	// MCP sources connect lazily; a dead server only disables its tools.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	for name, mcpCfg := range cfg.Tools.MCPServers {
		source := tools.NewMCPSource(name, mcpCfg)
		if err := source.Discover(ctx, registry); err != nil {
			log.Warn("MCP source unavailable", "source", name, "error", err)
			continue
		}
		defer source.Close()
	}

	approvals := tools.NewApprovalQueue(registry, approvalTTL)
	srv := &http.Server{
		Addr:    cli.Listen,
		Handler: tools.NewServer(registry, approvals).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Tool server listening", "addr", cli.Listen, "version", version.Version,
			"tools", len(registry.ListTools()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func registerBuiltins(registry *tools.Registry, cfg *config.Config) error {
	emb := embedder.NewHTTPEmbedder(cfg.Services.Embedder, "")
	knowledge, err := vector.NewKnowledgeStore(cfg.Paths.KnowledgeStore, true)
	if err != nil {
		return err
	}

	shellTimeout := time.Duration(cfg.Tools.ShellTimeoutSec) * time.Second
	builtins := []tools.Tool{
		tools.NewReadFileTool(cfg.Tools.FileRoots),
		tools.NewWriteFileTool(cfg.Tools.FileRoots),
		tools.NewRunShellTool(cfg.Tools.ShellWhitelist, shellTimeout, ""),
		tools.NewEmbeddingQueryTool(emb, knowledge),
		tools.NewEmbedDocumentsTool(emb, knowledge),
		tools.NewWebSearchTool(&cfg.WebResearch),
		tools.NewWebFetchTool(&cfg.WebResearch),
		tools.NewIntrospectLogsTool(cfg.Paths.LogDir),
	}
	for _, tool := range builtins {
		if err := registry.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

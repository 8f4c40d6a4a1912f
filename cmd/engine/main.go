// Command engine runs the cognition engine: the packet pipeline, the
// model pool, and the sleep/wake lifecycle, served over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/azraeltruthsay/gaia-sub000/pkg/checkpoint"
	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/council"
	"github.com/azraeltruthsay/gaia-sub000/pkg/embedder"
	"github.com/azraeltruthsay/gaia-sub000/pkg/engine"
	"github.com/azraeltruthsay/gaia-sub000/pkg/ha"
	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
	"github.com/azraeltruthsay/gaia-sub000/pkg/logger"
	"github.com/azraeltruthsay/gaia-sub000/pkg/server"
	"github.com/azraeltruthsay/gaia-sub000/pkg/session"
	"github.com/azraeltruthsay/gaia-sub000/pkg/tools"
	"github.com/azraeltruthsay/gaia-sub000/pkg/vector"
	"github.com/azraeltruthsay/gaia-sub000/pkg/version"
)

// shutdownGrace matches the container stop-grace-period; checkpoints
// must be on disk before it expires.
const shutdownGrace = 25 * time.Second

type CLI struct {
	Config     string   `short:"c" default:"/shared/constants.json" help:"Path to the constants file (or key for consul/etcd)."`
	ConfigType string   `default:"file" enum:"file,consul,etcd" help:"Config source."`
	Endpoints  []string `help:"Consul/etcd endpoints."`
	Listen     string   `default:":8100" help:"HTTP listen address."`
	LogLevel   string   `default:"info" help:"Log level (debug, info, warn, error)."`
	Version    bool     `help:"Print version and exit."`
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	kong.Parse(&cli,
		kong.Name("gaia-engine"),
		kong.Description("GAIA cognition engine"),
		kong.UsageOnError(),
	)
	if cli.Version {
		fmt.Println(version.Version)
		return
	}

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, "simple")
	log := slog.Default()

	if err := run(cli, log); err != nil {
		log.Error("Engine exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cli CLI, log *slog.Logger) error {
	// The engine is built after the first Load; the watcher callback
	// sees it through this pointer.
	var eng atomic.Pointer[engine.Engine]

	loader, err := config.NewLoader(config.LoaderOptions{
		Type:      config.ConfigType(cli.ConfigType),
		Path:      cli.Config,
		Endpoints: cli.Endpoints,
		Watch:     cli.ConfigType == "file",
		OnChange: func(next *config.Config) error {
			if e := eng.Load(); e != nil {
				e.ApplyTunables(next)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	defer loader.Stop()

	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	sessions, err := session.NewStore(cfg.Paths.SessionsFile, cfg.Session.WindowSize)
	if err != nil {
		return err
	}
	knowledge, err := vector.NewKnowledgeStore(cfg.Paths.KnowledgeStore, true)
	if err != nil {
		return err
	}
	pool, err := llms.NewPool(cfg)
	if err != nil {
		return err
	}

	maintenance := ha.NewMaintenanceFlag(cfg.Paths.MaintenanceFlag)
	httpc := httpclient.New(httpclient.WithMaintenance(maintenance))

	cogEngine, err := engine.New(engine.Deps{
		Config:      cfg,
		Logger:      log,
		Sessions:    sessions,
		Embedder:    buildEmbedder(cfg),
		Knowledge:   knowledge,
		Pool:        pool,
		Council:     council.NewBox(cfg.Paths.CouncilNotes, cfg.Paths.CouncilArchive),
		Checkpoints: checkpoint.NewStore(cfg.Paths.PrimeCheckpoint, cfg.Paths.LiteJournal),
		Tools:       tools.NewClient(cfg.Services.ToolServer, time.Duration(cfg.Tools.RPCTimeoutSec)*time.Second),
		HTTP:        httpc,
	})
	if err != nil {
		return err
	}
	eng.Store(cogEngine)

	srv := &http.Server{
		Addr:    cli.Listen,
		Handler: server.New(cogEngine, log).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Engine listening", "addr", cli.Listen, "version", version.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Checkpoints first; the stop-grace-period is short and they are
	// the only state that cannot be reconstructed.
	log.Info("Shutting down, writing checkpoints")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := cogEngine.WriteCheckpointNow(shutdownCtx); err != nil {
		log.Error("Checkpoint write failed during shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pool.Shutdown()
	return nil
}

// buildEmbedder picks the sentence-transformer pool entry when one is
// configured, otherwise talks to the embedder service directly.
func buildEmbedder(cfg *config.Config) embedder.Embedder {
	for _, mc := range cfg.ModelConfigs {
		if mc.Type == "sentence-transformer" {
			base := mc.BaseURL
			if base == "" {
				base = cfg.Services.Embedder
			}
			return embedder.NewHTTPEmbedder(base, mc.Model)
		}
	}
	return embedder.NewHTTPEmbedder(cfg.Services.Embedder, "")
}

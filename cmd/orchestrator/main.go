// Command orchestrator runs the cross-service supervisor: the GPU
// ownership state machine, the health watchdog, and HA session sync.
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

	"github.com/azraeltruthsay/gaia-sub000/pkg/checkpoint"
	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/ha"
	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
	"github.com/azraeltruthsay/gaia-sub000/pkg/logger"
	"github.com/azraeltruthsay/gaia-sub000/pkg/orchestrator"
	"github.com/azraeltruthsay/gaia-sub000/pkg/version"
)

type CLI struct {
	Config     string   `short:"c" default:"/shared/constants.json" help:"Path to the constants file (or key for consul/etcd)."`
	ConfigType string   `default:"file" enum:"file,consul,etcd" help:"Config source."`
	Endpoints  []string `help:"Consul/etcd endpoints."`
	Listen     string   `default:":8200" help:"HTTP listen address."`
	LogLevel   string   `default:"info" help:"Log level (debug, info, warn, error)."`
	Version    bool     `help:"Print version and exit."`
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	kong.Parse(&cli,
		kong.Name("gaia-orchestrator"),
		kong.Description("GAIA cross-service orchestrator"),
		kong.UsageOnError(),
	)
	if cli.Version {
		fmt.Println(version.Version)
		return
	}

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, "simple")
	log := slog.Default()

	if err := run(cli, log); err != nil {
		log.Error("Orchestrator exited with error", "error", err)
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

	containers, err := orchestrator.NewDockerRuntime()
	if err != nil {
		return err
	}

	maintenance := ha.NewMaintenanceFlag(cfg.Paths.MaintenanceFlag)

	var syncer *orchestrator.Syncer
	if config.BoolOr(cfg.HA.Enabled, false) {
		syncer = orchestrator.NewSyncer(cfg.Paths, cfg.HA.CandidateRoot, log)
	}
	watchdog := orchestrator.NewWatchdog(orchestrator.WatchdogDeps{
		Log:         log,
		IntervalSec: cfg.HA.WatchIntervalSec,
		Targets:     watchTargets(cfg),
		Checkpoints: checkpoint.NewStore(cfg.Paths.PrimeCheckpoint, cfg.Paths.LiteJournal),
		Maintenance: maintenance,
		Syncer:      syncer,
	})

	orch := orchestrator.New(orchestrator.Deps{
		Config:      cfg,
		Log:         log,
		HTTP:        httpclient.New(),
		Containers:  containers,
		VRAM:        orchestrator.SMIProber{},
		Maintenance: maintenance,
		Watchdog:    watchdog,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go watchdog.Run(ctx)

	srv := &http.Server{Addr: cli.Listen, Handler: orch.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Orchestrator listening", "addr", cli.Listen, "version", version.Version)
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

// watchTargets derives the watchdog's service list from SERVICES. The
// engine is the only service with a configured standby today.
func watchTargets(cfg *config.Config) []orchestrator.ServiceTarget {
	targets := []orchestrator.ServiceTarget{
		{Name: "engine", LiveURL: cfg.Services.Engine + "/health", CandidateURL: healthOrEmpty(cfg.Services.EngineFallback)},
		{Name: "gateway", LiveURL: cfg.Services.Gateway + "/health"},
		{Name: "tool_server", LiveURL: cfg.Services.ToolServer + "/health"},
		{Name: "generation", LiveURL: cfg.Services.Generation + "/health"},
	}
	if cfg.Services.Training != "" {
		targets = append(targets, orchestrator.ServiceTarget{
			Name: "training", LiveURL: cfg.Services.Training + "/health",
		})
	}
	return targets
}

func healthOrEmpty(base string) string {
	if base == "" {
		return ""
	}
	return base + "/health"
}

// Command gateway runs the external ingress: inbound messages become
// cognition packets, completed packets route back out to their surface.
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
	"github.com/azraeltruthsay/gaia-sub000/pkg/gateway"
	"github.com/azraeltruthsay/gaia-sub000/pkg/ha"
	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
	"github.com/azraeltruthsay/gaia-sub000/pkg/logger"
	"github.com/azraeltruthsay/gaia-sub000/pkg/version"
)

type CLI struct {
	Config     string            `short:"c" default:"/shared/constants.json" help:"Path to the constants file (or key for consul/etcd)."`
	ConfigType string            `default:"file" enum:"file,consul,etcd" help:"Config source."`
	Endpoints  []string          `help:"Consul/etcd endpoints."`
	Listen     string            `default:":8080" help:"HTTP listen address."`
	LogLevel   string            `default:"info" help:"Log level (debug, info, warn, error)."`
	Dispatch   map[string]string `help:"destination=webhook-url pairs for the output router."`
	Version    bool              `help:"Print version and exit."`
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	kong.Parse(&cli,
		kong.Name("gaia-gateway"),
		kong.Description("GAIA web/chat gateway"),
		kong.UsageOnError(),
	)
	if cli.Version {
		fmt.Println(version.Version)
		return
	}

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, "simple")
	log := slog.Default()

	if err := run(cli, log); err != nil {
		log.Error("Gateway exited with error", "error", err)
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

	maintenance := ha.NewMaintenanceFlag(cfg.Paths.MaintenanceFlag)
	client := httpclient.New(httpclient.WithMaintenance(maintenance))

	gw := gateway.New(cfg, client, log)
	for destination, url := range cli.Dispatch {
		gw.RegisterDispatcher(destination, gateway.NewWebhookDispatcher(url, client))
		log.Info("Registered webhook dispatcher", "destination", destination, "url", url)
	}

	srv := &http.Server{Addr: cli.Listen, Handler: gw.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Gateway listening", "addr", cli.Listen, "version", version.Version)
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

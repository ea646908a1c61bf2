// Command mdnsd advertises the services listed in its configuration file
// over Multicast DNS, or browses for a service type and exits.
//
// Usage:
//
//	mdnsd -config /etc/mdnsd.yaml
//	mdnsd -browse _http._tcp -timeout 3s
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/joshuafuller/mdnsd/internal/config"
	"github.com/joshuafuller/mdnsd/internal/log"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML configuration file")
		browse     = flag.String("browse", "", "browse for a service type such as _http._tcp, print the results and exit")
		timeout    = flag.Duration("timeout", 3*time.Second, "how long -browse listens for answers")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mdnsd:", err)
		os.Exit(1)
	}
	logger := log.Setup(cfg.Log.Level, cfg.Log.Format)

	if *browse != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runBrowse(ctx, cfg, *browse, *timeout, os.Stdout); err != nil {
			logger.Error("browse failed", "err", err)
			os.Exit(1)
		}
		return
	}

	fx.New(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		Module,
	).Run()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

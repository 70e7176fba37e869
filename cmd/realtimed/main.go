// Package main provides the real-time delivery daemon: WebSocket and
// HTTP stream transports in front of the channel broadcast pipeline
// and the NATS-backed event bus.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/broadcast"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/bus"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/inbound"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/mutes"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/payload"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/registry"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	tokens := flag.String("tokens", "", "comma-separated token=player pairs for the static authenticator")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promReg)

	logger.Info("starting realtime delivery daemon",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("bus_url", cfg.Bus.URL),
	)

	eventBus, err := bus.Connect(cfg.Bus, logger, metrics)
	if err != nil {
		logger.Fatal("connecting event bus", zap.Error(err))
	}

	reg := registry.NewRegistry(logger, metrics)
	optimizer := payload.NewOptimizer(cfg.Payload)
	deliver := broadcast.NewDeliverer(reg, optimizer, logger)
	muteStore := mutes.NewStore()

	coord := broadcast.NewCoordinator(reg, eventBus, deliver, muteStore, logger, metrics)
	if err := coord.Start(); err != nil {
		logger.Fatal("starting broadcast coordinator", zap.Error(err))
	}

	handlers := inbound.NewHandlerFactory(coord, reg, logger, metrics)
	auth := server.NewStaticTokenAuthenticator(parseTokens(*tokens))

	httpSvc := server.NewHTTPService(cfg, reg, coord, handlers, auth, eventBus, promReg, logger)

	// Stops run in reverse order: transports drain before the
	// coordinator drops its subscriptions, and the bus closes last so
	// the publish queue empties.
	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)
	lifecycle.Add("bus", &server.FuncService{
		StartFn: func() error { select {} },
		StopFn:  eventBus.Close,
	})
	lifecycle.Add("coordinator", &server.FuncService{
		StartFn: func() error { select {} },
		StopFn:  coord.Stop,
	})
	lifecycle.Add("http", httpSvc)

	logger.Info("realtime delivery daemon initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Error("daemon exited with error", zap.Error(err))
	}
}

// parseTokens parses "token=player,token=player" into the static
// authenticator's map.
func parseTokens(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		token, player, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && token != "" && player != "" {
			out[token] = player
		}
	}
	return out
}

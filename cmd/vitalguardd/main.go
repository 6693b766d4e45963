// vitalguardd runs the on-premise health telemetry pipeline: it decodes
// encrypted sensor packets from the wearable, runs edge inference, fuses
// cloud analysis, raises alerts and drives emergency dispatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vitalguard/internal/alerts"
	"vitalguard/internal/cloud"
	"vitalguard/internal/codec"
	"vitalguard/internal/config"
	"vitalguard/internal/emergency"
	"vitalguard/internal/events"
	"vitalguard/internal/fusion"
	"vitalguard/internal/inference"
	"vitalguard/internal/ingest"
	"vitalguard/internal/logging"
	"vitalguard/internal/model"
	"vitalguard/internal/outbox"
	"vitalguard/internal/pipeline"
	"vitalguard/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "vitalguardd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "vitalguard.yaml", "path to config file")
	flag.Parse()

	manager, err := config.NewManager(*configPath)
	if err != nil {
		return err
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting vitalguardd", "config", manager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logging.Component(logger, "events"))
	defer bus.Close()

	db, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	if db != nil {
		if err := db.Init(ctx); err != nil {
			return err
		}
		defer db.Close()
	}

	key, err := codec.KeyFromHex(cfg.Device.KeyHex)
	if err != nil {
		return err
	}
	frameCodec, err := codec.New(key)
	if err != nil {
		return err
	}

	adapter := ingest.NewAdapter(cfg.Device, frameCodec, bus, logging.Component(logger, "ingest"))
	defer adapter.Close()
	if cfg.Device.MQTT.Enabled {
		source := ingest.NewMQTTSource(cfg.Device.MQTT, adapter, logging.Component(logger, "ingest"))
		if err := source.Start(); err != nil {
			return err
		}
		defer source.Stop()
	}

	cloudCh := make(chan model.CloudMLResponse, 32)
	if cfg.Cloud.MQTT.Enabled {
		source := cloud.NewMQTTSource(cfg.Cloud.MQTT, logging.Component(logger, "cloud"))
		if err := source.Start(); err != nil {
			logger.Warn("cloud mqtt unavailable, continuing without push", "err", err)
		} else {
			defer source.Stop()
			go fanIn(ctx, source.Responses(), cloudCh)
		}
	}
	if cfg.Cloud.REST.Enabled {
		poller := cloud.NewPoller(cfg.Cloud.REST, logging.Component(logger, "cloud"))
		go poller.Run(ctx)
		go fanIn(ctx, poller.Responses(), cloudCh)
	}

	models, err := inference.LoadModels(cfg.Inference.ModelDir)
	if err != nil {
		return err
	}
	infer := inference.NewEngine(models, cfg.Inference.LatencyBudget, logging.Component(logger, "inference"))
	fuser := fusion.NewFuser(cfg.Fusion, bus, logging.Component(logger, "fusion"))

	gateway := emergency.NewHTTPGateway(cfg.Emergency, logging.Component(logger, "emergency"))
	dispatcher := emergency.NewDispatcher(cfg.Emergency, gateway, gateway, gateway, bus, db, logging.Component(logger, "emergency"))

	alertEngine := alerts.NewEngine(cfg.Alerts, bus, db, nil, dispatcher, logging.Component(logger, "alerts"))

	var box *outbox.Outbox
	if cfg.Outbox.Enabled {
		box, err = outbox.New(cfg.Outbox, logging.Component(logger, "outbox"))
		if err != nil {
			return err
		}
		defer box.Close()
		go box.Run(ctx)
	}

	pipe := pipeline.New(cfg, adapter.Frames(), cloudCh, infer, fuser, alertEngine, box, db, bus, logging.Component(logger, "pipeline"))

	go manager.Watch(30*time.Second, func(updated *config.Config) {
		pipe.Reconfigure(updated)
		dispatcher.Reconfigure(updated.Emergency)
		logger.Info("configuration reloaded", "path", manager.Path())
	}, func(err error) {
		logger.Warn("configuration reload failed", "err", err)
	}, ctx.Done())

	logger.Info("pipeline running",
		"cycle_interval", cfg.Fusion.CycleInterval,
		"models", len(models),
		"storage", cfg.Storage.Enabled,
		"outbox", cfg.Outbox.Enabled,
	)
	pipe.Run(ctx)
	logger.Info("shutting down")
	return nil
}

func fanIn(ctx context.Context, in <-chan model.CloudMLResponse, out chan<- model.CloudMLResponse) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"hdsentinelmqtt/internal/api"
	"hdsentinelmqtt/internal/bridge"
	"hdsentinelmqtt/internal/config"
	"hdsentinelmqtt/internal/hdsentinel"
	"hdsentinelmqtt/internal/mqtt"
	"hdsentinelmqtt/internal/sensor"
	"hdsentinelmqtt/internal/storage"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file with configuration")
	templatesPath := flag.String("templates", "config.yml", "sensor template store")
	once := flag.Bool("once", false, "run a single publish cycle and exit")
	flag.Parse()

	config.LoadEnvFile(*envFile)

	log := logrus.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	templates, err := sensor.LoadStore(*templatesPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load sensor templates")
	}
	log.WithField("templates", templates.Len()).Info("loaded sensor templates")

	var source hdsentinel.Source
	switch cfg.Source {
	case config.SourceText:
		source = &hdsentinel.TextSource{Binary: cfg.Binary, Log: log}
	default:
		source = &hdsentinel.XMLSource{Binary: cfg.Binary, ReportPath: cfg.XMLPath, Log: log}
	}

	client, err := mqtt.New(mqtt.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		ClientID: "hdsentinel-mqtt",
		Username: cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		UseTLS:   cfg.MQTTUseTLS,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("invalid MQTT configuration")
	}
	if err := client.Connect(); err != nil {
		log.WithError(err).Fatal("failed to connect to MQTT broker")
	}
	defer client.Disconnect()

	var store *storage.Store
	if cfg.StateDBPath != "" {
		store, err = storage.Open(cfg.StateDBPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open state database")
		}
		defer store.Close()
	}

	if cfg.StatusAddr != "" {
		if store == nil {
			log.Warnf("%s requires %s, status API disabled", config.EnvStatusAddr, config.EnvStateDBPath)
		} else {
			server := api.NewServer(store, log)
			go func() {
				log.WithField("addr", cfg.StatusAddr).Info("status API listening")
				if err := http.ListenAndServe(cfg.StatusAddr, server.Router()); err != nil {
					log.WithError(err).Error("status API stopped")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bridge.New(source, client, templates, store, log, bridge.Options{
		BaseTopic:       cfg.BaseTopic,
		Interval:        cfg.Interval,
		SnapshotTimeout: cfg.SnapshotTimeout,
		Once:            *once,
	})

	log.Info("getting initial disk data from hdsentinel")
	if err := b.Bootstrap(ctx); err != nil {
		log.WithError(err).Fatal("startup failed")
	}

	b.Run(ctx)
	log.Info("shutdown complete")
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ClusterCockpit/tscore/internal/config"
	"github.com/ClusterCockpit/tscore/internal/ingest"
	"github.com/ClusterCockpit/tscore/internal/obsmetrics"
	"github.com/ClusterCockpit/tscore/internal/store"
)

func main() {
	var flagConfigFile string
	var flagDataDir string
	var flagListenAddr string
	var flagNatsAddress string
	var flagNatsSubject string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default engine configuration with `config.json`")
	flag.StringVar(&flagDataDir, "data-dir", "./var/tscore", "Directory the WAL shards live under")
	flag.StringVar(&flagListenAddr, "listen", ":9090", "Address the /metrics endpoint listens on")
	flag.StringVar(&flagNatsAddress, "nats-address", "", "NATS server address; empty disables the NATS ingestion front door")
	flag.StringVar(&flagNatsSubject, "nats-subject", "tscore.ingest", "NATS subject to subscribe to for line-protocol ingestion")
	flag.Parse()

	cfg, err := loadConfig(flagConfigFile)
	if err != nil {
		cclog.Fatalf("[tscored]> %s", err.Error())
	}

	s, err := store.Init(flagDataDir, store.Options{Config: cfg})
	if err != nil {
		cclog.Fatalf("[tscored]> init store: %s", err.Error())
	}

	if n, err := s.Replay(); err != nil {
		cclog.Fatalf("[tscored]> replay: %s", err.Error())
	} else {
		cclog.Infof("[tscored]> replayed %d series from the WAL", n)
	}

	var subscriber *ingest.Subscriber
	if flagNatsAddress != "" {
		subscriber, err = ingest.Connect(ingest.Config{Address: flagNatsAddress, Subject: flagNatsSubject}, s)
		if err != nil {
			cclog.Errorf("[tscored]> NATS ingestion disabled: %s", err.Error())
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(obsmetrics.NewCollector(obsmetrics.Sources{WAL: s.WAL(), Hierarchy: s.Hierarchy(), Filter: s.Filter()}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(s.Stats()))
	})

	httpServer := &http.Server{Addr: flagListenAddr, Handler: mux}
	go func() {
		cclog.Infof("[tscored]> listening on %s", flagListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Fatalf("[tscored]> http server: %s", err.Error())
		}
	}()

	flushTicker := time.NewTicker(5 * time.Second)
	defer flushTicker.Stop()
	go func() {
		for range flushTicker.C {
			s.Flush()
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	cclog.Info("[tscored]> shutting down")
	if subscriber != nil {
		subscriber.Close()
	}
	httpServer.Close()
	s.Flush()
	if err := s.Close(); err != nil {
		cclog.Errorf("[tscored]> close: %s", err.Error())
	}
}

func loadConfig(path string) (config.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return config.Config{}, err
	}
	return config.Load(json.RawMessage(raw))
}

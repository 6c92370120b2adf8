package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/herdcount/pkg/storage"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/dashboard"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("dashboard", "Web dashboard of stored animal counts")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: ""})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Listen address. Overrides the config file.", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		panic(err)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Dashboard.Listen = *listen
	}

	store, err := tsdb.Open(logger, cfg.Database)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	reports, err := storage.Open(logger, cfg.Evaluation.ReportStorage)
	if err != nil {
		logger.Warnf("Evaluation reports unavailable: %v", err)
		reports = nil
	}

	s := dashboard.NewServer(logger, cfg, store, reports, metrics.New())
	s.ListenForKillSignals()
	err = s.ListenHTTP(cfg.Dashboard.Listen)
	// Waits for a signal-initiated shutdown to finish closing the store
	s.Shutdown()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

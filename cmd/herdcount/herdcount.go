package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/detector/yolov8"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/monitor"
	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/herdcount/server/video"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("herdcount", "Count animals in a live camera or video file")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: ""})
	source := parser.String("s", "source", &argparse.Options{Help: "Video source (camera index, file, or URL). Overrides the config file.", Default: ""})
	headless := parser.Flag("", "headless", &argparse.Options{Help: "Don't open a preview window", Default: false})
	noSave := parser.Flag("", "nosave", &argparse.Options{Help: "Don't write counts to the database", Default: false})
	metricsAddr := parser.String("", "metrics", &argparse.Options{Help: "Serve Prometheus metrics on this address, eg :9100", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	if err := run(logger, *configFile, *source, *headless, *noSave, *metricsAddr); err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func run(log logs.Log, configFile, sourceOverride string, headless, noSave bool, metricsAddr string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if sourceOverride != "" {
		cfg.Video.Source = sourceOverride
	}

	det, err := yolov8.LoadAnimalDetector(log, cfg)
	if err != nil {
		return err
	}
	defer det.Close()

	src, err := video.OpenSource(cfg.Video.Source)
	if err != nil {
		return err
	}
	defer src.Close()
	log.Infof("Opened video source %v", src.Name())

	// Run without persistence if the database is unreachable
	var store tsdb.Store
	if !noSave {
		store, err = tsdb.Open(log, cfg.Database)
		if err != nil {
			log.Warnf("Counts will not be saved: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	m := metrics.New()
	if metricsAddr != "" {
		go func() {
			log.Infof("Serving metrics on %v", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, m.Handler()); err != nil {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	outputPath := ""
	if cfg.Video.SaveOutput {
		outputPath = cfg.Video.OutputPath
	}
	var display monitor.Display
	preview := cfg.ShowPreview() && !headless
	if preview || outputPath != "" {
		d := video.NewDisplay(log, preview, outputPath, src.FPS())
		defer d.Close()
		display = d
	}

	session := monitor.NewSession(log, src, det, monitor.Options{
		Classes:     cfg.Animals.Classes,
		Persistence: cfg.Persistence,
		Zone:        cfg.Location(),
		Store:       store,
		Metrics:     m,
		Display:     display,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Infof("Press 'q' to quit, 's' for statistics, 'i' for current detections")
	return session.Run(ctx)
}

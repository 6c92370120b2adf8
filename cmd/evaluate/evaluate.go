package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/herdcount/pkg/evaluation"
	"github.com/cyclopcam/herdcount/pkg/storage"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/detector/yolov8"
	"github.com/cyclopcam/herdcount/server/evalrun"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/video"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("evaluate", "Measure counting accuracy against labelled videos")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: ""})
	groundTruth := parser.String("g", "groundtruth", &argparse.Options{Help: "Ground truth JSON file. Overrides the config file.", Default: ""})
	videosDir := parser.String("v", "videos", &argparse.Options{Help: "Directory of videos. Overrides the config file.", Default: ""})
	output := parser.String("o", "output", &argparse.Options{Help: "Report name. Overrides the config file.", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	cfg, err := config.Load(*configFile)
	check(err)
	if *groundTruth != "" {
		cfg.Evaluation.GroundTruth = *groundTruth
	}
	if *videosDir != "" {
		cfg.Evaluation.VideosDir = *videosDir
	}
	if *output != "" {
		cfg.Evaluation.ReportPath = *output
	}

	gt, err := evaluation.LoadGroundTruth(cfg.Evaluation.GroundTruth)
	check(err)
	check(gt.Validate(cfg.ClassNames()))

	det, err := yolov8.LoadAnimalDetector(logger, cfg)
	check(err)
	defer det.Close()

	reports, err := storage.Open(logger, cfg.Evaluation.ReportStorage)
	check(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("%v\nCOUNTING ACCURACY EVALUATION\n%v\n", rule, rule)
	report, err := evalrun.Run(ctx, logger, evalrun.Options{
		Open:        video.OpenFrameSource,
		Detector:    det,
		Classes:     cfg.Animals.Classes,
		GroundTruth: gt,
		VideosDir:   cfg.Evaluation.VideosDir,
		Metrics:     metrics.New(),
	})
	check(err)

	evaluation.FormatSummary(os.Stdout, report)
	check(evaluation.WriteReport(reports, cfg.Evaluation.ReportPath, report))
	logger.Infof("Results saved to %v", cfg.Evaluation.ReportPath)
}

const rule = "============================================================"

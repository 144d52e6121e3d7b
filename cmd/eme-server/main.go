package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"emeharness/internal/app"
	"emeharness/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (defaults to $EME_CONFIG, config.yaml, configs/config.yaml)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", config.AppName, app.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

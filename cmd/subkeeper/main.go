package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"

	"github.com/justVisiting992/subkeeper/internal/config"
	"github.com/justVisiting992/subkeeper/internal/pipeline"
)

var (
	configPath = flag.String("c", "subkeeper.yaml", "config file path")
	fast       = flag.Bool("fast", false, "skip server maintenance and only republish")
	debug      = flag.Bool("debug", false, "verbose logging")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		gologger.Fatal().Msgf("Pass finished with errors: %s", err)
	}
	gologger.Info().Msg("Success! Files updated.")
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *fast {
		cfg.Fast = true
	}
	gologger.DefaultLogger.SetMaxLevel(logLevel(cfg.LogLevel, *debug))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner := pipeline.New(cfg)
	defer runner.Close()
	_, err = runner.Run(ctx)
	return err
}

func logLevel(name string, debug bool) levels.Level {
	if debug {
		return levels.LevelDebug
	}
	switch strings.ToLower(name) {
	case "debug":
		return levels.LevelDebug
	case "warning", "warn":
		return levels.LevelWarning
	case "error":
		return levels.LevelError
	case "silent":
		return levels.LevelSilent
	}
	return levels.LevelInfo
}

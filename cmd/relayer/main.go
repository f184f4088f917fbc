package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/msalopek/swap_relayer/relayer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	logLevel := flag.String("log-level", "INFO", "Set the logging level")
	logFormat := flag.String("log-format", "json", "Set the log output format")
	configPath := flag.String("config", "config.toml", "Path to the config file")
	dbPath := flag.String("db", "", "Path to the db file, overrides the config")
	listen := flag.String("listen", "", "HTTP listen address, overrides the config")
	loadFromFile := flag.String("load-from-file", "", "Load orders from file on startup.")
	flag.Parse()

	// Set up logging
	if *logFormat == "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		}
		output.FormatMessage = func(i interface{}) string {
			return fmt.Sprintf("message: %s", i)
		}
		output.FormatFieldName = func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		}
		output.FormatFieldValue = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%s", i))
		}
		log.Logger = log.Output(output)
	}

	// Set log level
	switch strings.TrimSpace(strings.ToUpper(*logLevel)) {
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "INFO":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := relayer.MustLoadConfig(*configPath)
	if *dbPath != "" {
		cfg.DB = *dbPath
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	db, err := sql.Open("sqlite3", cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := relayer.NewStack(ctx, db, cfg, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up relayer")
	}
	defer stack.Close()
	r := stack.Relayer

	if *loadFromFile != "" {
		if _, _, err := r.LoadFromFile(ctx, *loadFromFile); err != nil {
			log.Fatal().Err(err).Str("file", *loadFromFile).Msg("failed to load orders from file")
		}
	}

	var feed *relayer.PriceFeed
	if cfg.PriceFeed.ApiUrl != "" {
		feed = relayer.NewPriceFeed(cfg.PriceFeed, &log.Logger)
	}
	server := relayer.NewServer(r, feed)
	watcher := relayer.NewWatcher(r, cfg.Workers, &log.Logger)

	log.Logger.Info().
		Str("listen", cfg.Listen).
		Str("db", cfg.DB).
		Uint64("src_chain", cfg.Source.ChainID).
		Uint64("dst_chain", cfg.Destination.ChainID).
		Uint64("commitment_window", cfg.CommitmentWindow).
		Msg("relayer started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.RunWithContext(ctx, cfg.Listen); err != nil {
			log.Error().Err(err).Msg("server stopped")
			cancel()
		}
	}()

	ticker := time.NewTicker(cfg.WatchIntervalDuration())
	defer ticker.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			log.Logger.Debug().Msg("interval tick -- scanning orders")
			if err := watcher.Scan(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("watcher scan failed")
			}
		case <-sigs:
			log.Info().Msg("shutdown signal received")
			cancel() // Cancel the context
			log.Info().Msg("waiting for ongoing operations to complete...")
			wg.Wait() // Wait for the server to shut down
			return
		case <-ctx.Done():
			log.Info().Msg("context cancelled")
			wg.Wait()
			return
		}
	}
}

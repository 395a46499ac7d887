package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptogate/config"
	"cryptogate/internal/market"
	"cryptogate/internal/router"
	"cryptogate/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	if config.IsProductionLike(env) {
		for name, vc := range cfg.Venues {
			if !vc.ReadOnly {
				log.WithFields(logger.Fields{"venue": name, "env": env}).Warn("forcing read-only credentials")
				vc.ReadOnly = true
			}
		}
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Gateway.Name,
		"version":     cfg.Gateway.Version,
		"environment": env,
	}).Info("starting cryptogate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.Report {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	rt := router.New(cfg)

	rt.Events().OnAny(func(ev market.Event) {
		switch ev.Type {
		case market.EventTicker, market.EventOrderBook, market.EventTrade, market.EventCandle:
			// market data is consumed by subscription callbacks
		case market.EventError:
			log.WithComponent("events").WithFields(logger.Fields{"venue": ev.Venue}).WithError(ev.Err).Error("venue error")
		default:
			log.WithComponent("events").WithFields(logger.Fields{
				"event":   string(ev.Type),
				"venue":   ev.Venue,
				"channel": ev.Channel,
				"symbol":  ev.Symbol,
			}).Info("gateway event")
		}
	})

	if err := rt.Initialize(ctx); err != nil {
		log.WithError(err).Error("failed to initialize exchange router")
		os.Exit(1)
	}

	dataLog := log.WithComponent("market_data")
	onData := func(ev market.Event) {
		dataLog.WithFields(logger.Fields{
			"venue":   ev.Venue,
			"channel": ev.Channel,
			"symbol":  ev.Symbol,
		}).Debug("market data")
	}

	for _, sub := range cfg.Subscriptions {
		var err error
		switch sub.Channel {
		case "ticker":
			err = rt.SubscribeTicker(ctx, sub.Venue, sub.Symbol, onData)
		case "orderbook":
			err = rt.SubscribeOrderBook(ctx, sub.Venue, sub.Symbol, onData)
		case "trades":
			err = rt.SubscribeTrades(ctx, sub.Venue, sub.Symbol, onData)
		case "candles":
			err = rt.SubscribeCandles(ctx, sub.Venue, sub.Symbol, sub.Timeframe, onData)
		}
		if err != nil {
			log.WithFields(logger.Fields{
				"venue":   sub.Venue,
				"channel": sub.Channel,
				"symbol":  sub.Symbol,
			}).WithError(err).Warn("subscription failed")
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	rt.Shutdown(shutdownCtx)

	log.Info("cryptogate stopped")
}

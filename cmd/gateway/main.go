// Command gateway runs the unified broker gateway: the provider registry,
// the regulatory feed consumer, and the operational HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/finkor/brokergate/internal/compliance"
	"github.com/finkor/brokergate/internal/compliance/feed"
	"github.com/finkor/brokergate/internal/config"
	"github.com/finkor/brokergate/internal/market"
	"github.com/finkor/brokergate/internal/metrics"
	"github.com/finkor/brokergate/internal/provider"
	"github.com/finkor/brokergate/internal/server"
	"github.com/finkor/brokergate/internal/validation"
	"github.com/finkor/brokergate/pkg/logger"
	"github.com/finkor/brokergate/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "path to the gateway config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting broker gateway",
		zap.String("environment", cfg.Environment),
		zap.Int("providers", len(cfg.Providers)))

	m := metrics.New()

	calendar := market.DefaultKoreanCalendar()
	if cfg.Market.HolidayFile != "" {
		n, err := market.LoadHolidayFile(calendar, cfg.Market.HolidayFile)
		if err != nil {
			return err
		}
		log.Info("external holidays loaded",
			zap.String("file", cfg.Market.HolidayFile), zap.Int("count", n))
	}

	sessions := market.NewSessionEngine(
		map[models.Exchange]market.Hours{
			models.ExchangeKOSPI:  market.KRXHours(),
			models.ExchangeKOSDAQ: market.KRXHours(),
			models.ExchangeKONEX:  market.KRXHours(),
		},
		calendar,
		cfg.Market.SessionCacheTTL, log)

	comp := compliance.NewEngine(compliance.DefaultThresholds(), log)

	pipeline := validation.NewPipeline(
		sessions,
		map[models.Exchange]market.TickTable{
			models.ExchangeKOSPI:  market.KRXTickTable(models.ExchangeKOSPI),
			models.ExchangeKOSDAQ: market.KRXTickTable(models.ExchangeKOSDAQ),
			models.ExchangeKONEX:  market.KRXTickTable(models.ExchangeKONEX),
		},
		map[models.Exchange]market.PriceLimit{
			models.ExchangeKOSPI:  market.KRXPriceLimit(models.ExchangeKOSPI),
			models.ExchangeKOSDAQ: market.KRXPriceLimit(models.ExchangeKOSDAQ),
			models.ExchangeKONEX:  market.KRXPriceLimit(models.ExchangeKONEX),
		},
		comp, log)

	registry := provider.NewRegistry(pipeline, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	var consumer *feed.Consumer
	if cfg.Feed != nil {
		consumer = feed.NewConsumer(*cfg.Feed, comp, log)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("regulatory feed: %w", err)
			}
		}()
		log.Info("regulatory feed consumer started",
			zap.String("topic", cfg.Feed.Topic),
			zap.Strings("brokers", cfg.Feed.Brokers))
	}

	srv := server.New(server.Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Environment:  cfg.Environment,
	}, registry, m, log)
	go func() {
		if err := srv.Run(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("fatal component failure", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown incomplete", zap.Error(err))
	}
	registry.Shutdown(shutdownCtx)
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Warn("feed consumer close failed", zap.Error(err))
		}
	}

	log.Info("gateway stopped")
	return nil
}

// Package app assembles the search pipeline and its sinks from configuration.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/carzilla-scraper/internal/browser"
	"github.com/maltedev/carzilla-scraper/internal/catalog"
	"github.com/maltedev/carzilla-scraper/internal/config"
	"github.com/maltedev/carzilla-scraper/internal/database"
	"github.com/maltedev/carzilla-scraper/internal/events"
	"github.com/maltedev/carzilla-scraper/internal/fetch"
	"github.com/maltedev/carzilla-scraper/internal/mapping"
	"github.com/maltedev/carzilla-scraper/internal/parser"
	"github.com/maltedev/carzilla-scraper/internal/ratelimit"
	"github.com/maltedev/carzilla-scraper/internal/scraper"
	"github.com/maltedev/carzilla-scraper/internal/storage"
)

type App struct {
	Catalog *catalog.Catalog
	Mapper  *mapping.Mapper
	Checker *mapping.Checker
	Service *scraper.Service
	Driver  scraper.Driver

	Dataset *storage.DatasetFile
	DB      *database.DB
	Outbox  *database.OutboxRepository
	Relay   *database.Relay

	closers []func() error
	logger  *slog.Logger
}

// New builds the pipeline. The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}

	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	a.Catalog = cat
	logger.Info("catalog loaded", "version", cat.Version(), "brands", len(cat.Brands()))

	a.Mapper = mapping.NewMapper(cat, mapping.Policy{
		PowerUnitThreshold: cfg.Mapping.PowerUnitThreshold,
		HPToKW:             cfg.Mapping.HPToKW,
		MaxYear:            cfg.Mapping.MaxYear,
	}, logger)
	a.Checker = mapping.NewChecker(cat)

	driver, err := a.newDriver(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Driver = driver

	sinks, err := a.newSinks(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	popts := parser.DefaultOptions()
	popts.HPToKW = cfg.Mapping.HPToKW
	popts.MaxYear = cfg.Mapping.MaxYear

	a.Service = scraper.NewService(
		driver,
		a.Mapper,
		a.Checker,
		parser.NewListingParser(popts, logger),
		ratelimit.NewLimiter(float64(cfg.Scraper.RequestsPerMinute)/60, 1, cfg.Scraper.Jitter),
		scraper.Options{
			MaxRetries:    cfg.Scraper.MaxRetries,
			RetryDelay:    cfg.Scraper.RetryDelay,
			BackoffFactor: cfg.Scraper.BackoffFactor,
			Budget:        cfg.Scraper.Budget,
		},
		logger,
		sinks...,
	)

	return a, nil
}

// RefreshCatalog extracts a fresh catalog asset through the configured driver
// and writes it to path once it passes the same validation as the embedded
// one. Aliases are carried over from the loaded catalog.
func (a *App) RefreshCatalog(ctx context.Context, path string) (*catalog.Catalog, error) {
	session, err := a.Driver.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	asset, err := catalog.NewExtractor(session, a.logger).Extract(ctx, a.Catalog.Aliases(), time.Now())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := asset.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	cat, err := catalog.Load(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("extracted catalog is invalid: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write catalog: %w", err)
	}

	a.logger.Info("catalog refreshed", "path", path, "version", cat.Version(), "brands", len(cat.Brands()))
	return cat, nil
}

func loadCatalog(cfg config.CatalogConfig) (*catalog.Catalog, error) {
	if cfg.Path == "" {
		return catalog.Default()
	}
	cat, err := catalog.LoadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", cfg.Path, err)
	}
	return cat, nil
}

func (a *App) newDriver(cfg *config.Config) (scraper.Driver, error) {
	if cfg.Scraper.Driver == config.DriverStatic {
		opts := fetch.DefaultOptions()
		opts.Timeout = cfg.Scraper.NavigationTimeout
		opts.AcceptLanguage = cfg.Browser.AcceptLanguage
		if cfg.Browser.UserAgent != "" {
			opts.UserAgent = cfg.Browser.UserAgent
		}
		return fetch.New(opts, a.logger), nil
	}

	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.ProxyServer = cfg.Browser.ProxyServer
	opts.NavigationTimeout = cfg.Scraper.NavigationTimeout
	opts.SettleDelay = cfg.Scraper.SettleDelay
	opts.FilterDelay = cfg.Scraper.FilterDelay
	if cfg.Browser.UserAgent != "" {
		opts.UserAgent = cfg.Browser.UserAgent
	}

	b, err := browser.New(opts, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	a.closers = append(a.closers, b.Close)
	return b, nil
}

// newSinks wires result storage. With both Postgres and Redis enabled the
// run and its stream event are written in one transaction and the relay
// publishes them; with Redis alone events go straight to the stream.
func (a *App) newSinks(ctx context.Context, cfg *config.Config) ([]scraper.Sink, error) {
	var sinks []scraper.Sink

	if cfg.Output.DatasetFile != "" {
		dataset, err := storage.NewDatasetFile(cfg.Output.DatasetFile)
		if err != nil {
			return nil, err
		}
		a.Dataset = dataset
		sinks = append(sinks, dataset)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)

		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })

		if err := db.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.Outbox = database.NewOutboxRepository(db)

		stream := ""
		if rdb != nil {
			stream = cfg.Redis.Stream
			a.Relay = database.NewRelay(db, rdb, a.logger, database.RelayConfig{MaxLen: cfg.Redis.MaxLen})
		}
		sinks = append(sinks, database.NewRunRepository(db, stream, a.logger))
	} else if rdb != nil {
		sinks = append(sinks, events.NewStreamPublisher(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen, a.logger))
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	a.logger.Info("result sinks configured", "sinks", names)

	return sinks, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

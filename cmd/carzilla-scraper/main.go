package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/carzilla-scraper/internal/app"
	"github.com/maltedev/carzilla-scraper/internal/config"
	"github.com/maltedev/carzilla-scraper/internal/logging"
	"github.com/maltedev/carzilla-scraper/internal/models"
)

func main() {
	var (
		requestFile = flag.String("request", "", "Search request JSON file (- for stdin)")
		makeName    = flag.String("make", "", "Vehicle make")
		model       = flag.String("model", "", "Vehicle model")
		priceMin    = flag.Int("price-min", 0, "Minimum price in EUR")
		priceMax    = flag.Int("price-max", 0, "Maximum price in EUR")
		mileageMax  = flag.Int("mileage-max", 0, "Maximum mileage in km")
		year        = flag.Int("year", 0, "Earliest first registration year")
		fuel        = flag.String("fuel", "", "Comma separated fuel types")
		urlOnly     = flag.Bool("url-only", false, "Print the search URL and filters without loading the page")
		pretty      = flag.Bool("pretty", true, "Indent JSON output")
		refresh     = flag.String("refresh-catalog", "", "Extract the brand/model catalog from the site and write it to this file")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the result envelope.
	logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	req, err := readRequest(*requestFile, os.Stdin)
	if err != nil {
		logger.Error("failed to read request", "error", err)
		os.Exit(1)
	}
	applyFlags(req, *makeName, *model, *priceMin, *priceMax, *mileageMax, *year, *fuel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *urlOnly {
		// The static driver avoids starting a browser just to map a request.
		cfg.Scraper.Driver = config.DriverStatic
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *refresh != "" {
		cat, err := a.RefreshCatalog(ctx, *refresh)
		if err != nil {
			logger.Error("failed to refresh catalog", "error", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "catalog %s written to %s (%d brands); set CATALOG_PATH to use it\n", cat.Version(), *refresh, len(cat.Brands()))
		return
	}

	var out any
	if *urlOnly {
		url, ok := a.Mapper.BuildSearchURL(req)
		out = map[string]any{
			"search_url":       url,
			"supported":        ok,
			"support":          a.Checker.IsSearchSupported(req.Make, req.Model),
			"checkbox_filters": a.Mapper.CheckboxFilters(req),
		}
	} else {
		out = a.Service.Search(ctx, req)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		logger.Error("failed to write result", "error", err)
		os.Exit(1)
	}
}

func readRequest(path string, stdin io.Reader) (*models.SearchRequest, error) {
	req := &models.SearchRequest{}
	if path == "" {
		return req, nil
	}

	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(req); err != nil {
		return nil, err
	}
	return req, nil
}

// applyFlags overrides request fields with non-zero flag values.
func applyFlags(req *models.SearchRequest, makeName, model string, priceMin, priceMax, mileageMax, year int, fuel string) {
	if makeName != "" {
		req.Make = makeName
	}
	if model != "" {
		req.Model = model
	}
	if priceMin > 0 {
		req.PriceMin = models.IntPtr(priceMin)
	}
	if priceMax > 0 {
		req.PriceMax = models.IntPtr(priceMax)
	}
	if mileageMax > 0 {
		req.MileageMax = models.IntPtr(mileageMax)
	}
	if year > 0 {
		req.FirstRegistrationYear = models.IntPtr(year)
	}
	if fuel != "" {
		req.Fuel = nil
		for _, f := range strings.Split(fuel, ",") {
			if f = strings.TrimSpace(f); f != "" {
				req.Fuel = append(req.Fuel, f)
			}
		}
	}
}

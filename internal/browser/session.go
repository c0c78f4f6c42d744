package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

// Cookie banners seen on the site; the first visible one is clicked.
var consentSelectors = []string{
	`#onetrust-accept-btn-handler`,
	`button:has-text("Alle akzeptieren")`,
	`button:has-text("Akzeptieren")`,
	`a.cc-btn.cc-allow`,
	`button:has-text("Einverstanden")`,
}

// Session drives one playwright page.
type Session struct {
	page   playwright.Page
	opts   *Options
	logger *slog.Logger
}

// Navigate loads url, waits for the network to go idle, dismisses a cookie
// banner if one is shown and waits for the first listing card.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(s.opts.NavigationTimeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	if resp != nil && resp.Status() >= 400 {
		return fmt.Errorf("unexpected status %d for %s", resp.Status(), url)
	}

	if err := sleep(ctx, s.opts.SettleDelay); err != nil {
		return err
	}

	if s.dismissConsent() {
		s.logger.Debug("cookie banner dismissed")
	}

	// An empty result page has no cards; that is not a navigation failure.
	err = s.page.Locator(s.opts.ListingSelector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(s.opts.ListingWaitTimeout.Milliseconds())),
	})
	if err != nil {
		s.logger.Info("no listing cards appeared", "url", url, "error", err)
	}

	return nil
}

func (s *Session) dismissConsent() bool {
	for _, selector := range consentSelectors {
		button := s.page.Locator(selector).First()

		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}

		if err := button.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(2000)}); err != nil {
			s.logger.Debug("failed to click consent button", "selector", selector, "error", err)
			continue
		}
		return true
	}
	return false
}

// ApplyFilters checks each filter's checkbox by element id. Missing or
// disabled checkboxes are logged and skipped.
func (s *Session) ApplyFilters(ctx context.Context, filters []models.CheckboxFilter) (int, error) {
	applied := 0
	for _, f := range filters {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		// Ids such as "14" are not valid CSS id selectors.
		box := s.page.Locator(fmt.Sprintf(`[id=%q]`, f.ID))
		if err := box.Check(playwright.LocatorCheckOptions{Timeout: playwright.Float(3000)}); err != nil {
			s.logger.Warn("failed to apply filter", "filter", f.Name, "id", f.ID, "error", err)
			continue
		}
		applied++
		s.logger.Info("applied filter", "filter", f.Name, "id", f.ID)

		if err := sleep(ctx, s.opts.FilterDelay); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// HTML scrolls once to trigger lazy images and returns the page markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := s.page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		s.logger.Debug("scroll failed", "error", err)
	}

	content, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return content, nil
}

func (s *Session) Close() error {
	if err := s.page.Close(); err != nil {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}

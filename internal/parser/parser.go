package parser

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

// Parser turns a loaded result page into listing records.
type Parser interface {
	ParseListings(html string, ctx ExtractContext) ([]models.ListingRecord, error)
	ParseDocument(doc *goquery.Document, ctx ExtractContext) []models.ListingRecord
}

var _ Parser = (*ListingParser)(nil)

package feed

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"
)

const maxExtractedSummary = 600

// SummaryExtractor fills in a summary for items whose feed entry carried
// none, using the readable text of the linked page.
type SummaryExtractor struct {
	fetcher *Fetcher
	log     zerolog.Logger
}

func NewSummaryExtractor(fetcher *Fetcher, log zerolog.Logger) *SummaryExtractor {
	return &SummaryExtractor{fetcher: fetcher, log: log}
}

func (e *SummaryExtractor) Run(ctx context.Context, link string) (string, error) {
	if link == "" {
		return "", fmt.Errorf("item has no link")
	}

	pageURL, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid link: %w", err)
	}

	data, err := e.fetcher.Get(ctx, link)
	if err != nil {
		return "", fmt.Errorf("failed to fetch article: %w", err)
	}

	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	summary := strings.TrimSpace(cmp.Or(article.Excerpt, article.TextContent))
	if summary == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}

	e.log.Debug().Str("url", link).Int("length", len(summary)).Msg("Summary extracted")

	return truncateRunes(summary, maxExtractedSummary), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

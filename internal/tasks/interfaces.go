package tasks

import "context"

// SummaryExtractor produces a summary for an item that arrived without one,
// usually from the page its link points to.
// Example usage:
//
//	extractor := feed.NewSummaryExtractor(fetcher, log)
//	task := NewRelayTask(source, store, detector, notifier, RelayOptions{Extractor: extractor}, log)
type SummaryExtractor interface {
	Run(ctx context.Context, link string) (string, error)
}

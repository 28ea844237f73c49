package feed

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/lysyi3m/broadcast/internal/state"
)

var _ Source = (*BlogSource)(nil)

// BlogSource reads an RSS, Atom or JSON Feed document.
type BlogSource struct {
	url          string
	fetcher      *Fetcher
	gofeedParser *gofeed.Parser
	log          zerolog.Logger
}

func NewBlogSource(url string, fetcher *Fetcher, log zerolog.Logger) *BlogSource {
	return &BlogSource{
		url:          url,
		fetcher:      fetcher,
		gofeedParser: gofeed.NewParser(),
		log:          log.With().Str("source", string(SourceBlog)).Logger(),
	}
}

func (b *BlogSource) ID() SourceID { return SourceBlog }

func (b *BlogSource) Mode() state.Mode { return state.ModeSet }

func (b *BlogSource) Fetch(ctx context.Context) ([]Item, error) {
	data, err := b.fetcher.Get(ctx, b.url)
	if err != nil {
		return nil, fetchError(SourceBlog, Unreachable, err)
	}

	items, err := b.Parse(data)
	if err != nil {
		return nil, fetchError(SourceBlog, Malformed, err)
	}

	if len(items) == 0 {
		return nil, fetchError(SourceBlog, Empty, nil)
	}

	return items, nil
}

// Parse turns a feed document into items in publication order. Entries with
// nothing to identify them by are skipped.
func (b *BlogSource) Parse(data []byte) ([]Item, error) {
	feed, err := b.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Items))
	for i, entry := range feed.Items {
		if entry == nil {
			continue
		}

		item, ok := b.normalizeItem(entry)
		if !ok {
			b.log.Warn().Int("index", i).Msg("Skipping feed entry without guid, link or title")
			continue
		}
		items = append(items, item)
	}

	sortByPublished(items)

	b.log.Debug().Str("title", feed.Title).Int("items", len(items)).Msg("Parsed feed")

	return items, nil
}

func (b *BlogSource) normalizeItem(entry *gofeed.Item) (Item, bool) {
	guid := strings.TrimSpace(entry.GUID)
	link := strings.TrimSpace(entry.Link)
	title := strings.TrimSpace(entry.Title)

	if guid == "" && link == "" && title == "" {
		return Item{}, false
	}

	item := Item{
		Source:      SourceBlog,
		ID:          cmp.Or(guid, link, contentHash(title, link)),
		Title:       title,
		Summary:     htmlToText(cmp.Or(entry.Description, entry.Content)),
		Link:        link,
		ImageURL:    imageURL(entry),
		Author:      strings.Join(extractAuthors(entry), ", "),
		Categories:  entry.Categories,
		PublishedAt: cmp.Or(entry.PublishedParsed, entry.UpdatedParsed),
	}

	return item, true
}

// sortByPublished orders items oldest first when every item carries a
// publication date, and leaves document order alone otherwise.
func sortByPublished(items []Item) {
	for _, item := range items {
		if item.PublishedAt == nil {
			return
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(*items[j].PublishedAt)
	})
}

func imageURL(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enclosure := range entry.Enclosures {
		if enclosure != nil && strings.HasPrefix(enclosure.Type, "image/") {
			return enclosure.URL
		}
	}
	return ""
}

func extractAuthors(entry *gofeed.Item) []string {
	var authors []string

	if len(entry.Authors) > 0 {
		for _, author := range entry.Authors {
			if author == nil {
				continue
			}
			if s := formatAuthor(author.Name, author.Email); s != "" {
				authors = append(authors, s)
			}
		}
	} else if entry.Author != nil {
		if s := formatAuthor(entry.Author.Name, entry.Author.Email); s != "" {
			authors = append(authors, s)
		}
	}

	return authors
}

func formatAuthor(name, email string) string {
	return cmp.Or(strings.TrimSpace(name), strings.TrimSpace(email))
}

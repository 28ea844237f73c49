package feed

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lysyi3m/broadcast/internal/state"
)

const DefaultMOTDKey = "mobileMotd"

var _ Source = (*MOTDSource)(nil)

type motdEntry struct {
	Name string `json:"name"`
	Data struct {
		Title     string `json:"title"`
		EntryText string `json:"entryText"`
		Image     string `json:"image"`
		URL       string `json:"url"`
	} `json:"data"`
}

// MOTDSource reads the message-of-the-day list out of a JSON document. The
// list lives under a configurable top-level key and usually holds several
// active messages, so it is tracked as a set unless configured otherwise.
type MOTDSource struct {
	url          string
	key          string
	imageBaseURL string
	mode         state.Mode
	fetcher      *Fetcher
	log          zerolog.Logger
}

type MOTDOptions struct {
	URL          string
	Key          string
	ImageBaseURL string
	// Mode defaults to state.ModeSet. ModeCursor only suits a document
	// that carries a single active message.
	Mode state.Mode
}

func NewMOTDSource(opts MOTDOptions, fetcher *Fetcher, log zerolog.Logger) *MOTDSource {
	return &MOTDSource{
		url:          opts.URL,
		key:          cmp.Or(opts.Key, DefaultMOTDKey),
		imageBaseURL: opts.ImageBaseURL,
		mode:         cmp.Or(opts.Mode, state.ModeSet),
		fetcher:      fetcher,
		log:          log.With().Str("source", string(SourceMOTD)).Logger(),
	}
}

func (m *MOTDSource) ID() SourceID { return SourceMOTD }

func (m *MOTDSource) Mode() state.Mode { return m.mode }

func (m *MOTDSource) Fetch(ctx context.Context) ([]Item, error) {
	data, err := m.fetcher.Get(ctx, m.url)
	if err != nil {
		return nil, fetchError(SourceMOTD, Unreachable, err)
	}

	items, err := m.Parse(data)
	if err != nil {
		return nil, fetchError(SourceMOTD, Malformed, err)
	}

	if len(items) == 0 {
		return nil, fetchError(SourceMOTD, Empty, nil)
	}

	if m.mode == state.ModeCursor && len(items) > 1 {
		m.log.Warn().Int("items", len(items)).Msg("Cursor tracking on a list with several messages, entries added before the last one go unnoticed")
	}

	return items, nil
}

func (m *MOTDSource) Parse(data []byte) ([]Item, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	raw, ok := doc[m.key]
	if !ok || len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%q is not a list: %w", m.key, err)
	}

	items := make([]Item, 0, len(entries))
	for i, rawEntry := range entries {
		var entry motdEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			m.log.Warn().Err(err).Int("index", i).Msg("Skipping malformed message of the day entry")
			continue
		}

		item, ok := m.normalizeEntry(entry)
		if !ok {
			m.log.Warn().Int("index", i).Msg("Skipping message of the day entry without name, title or text")
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

func (m *MOTDSource) normalizeEntry(entry motdEntry) (Item, bool) {
	name := strings.TrimSpace(entry.Name)
	title := strings.TrimSpace(entry.Data.Title)
	body := htmlToText(entry.Data.EntryText)

	if name == "" && title == "" && body == "" {
		return Item{}, false
	}

	return Item{
		Source:   SourceMOTD,
		ID:       cmp.Or(name, contentHash(title, body)),
		Title:    title,
		Summary:  body,
		Link:     strings.TrimSpace(entry.Data.URL),
		ImageURL: m.resolveImage(entry.Data.Image),
	}, true
}

func (m *MOTDSource) resolveImage(image string) string {
	image = strings.TrimSpace(image)
	if image == "" || m.imageBaseURL == "" {
		return image
	}

	ref, err := url.Parse(image)
	if err != nil || ref.IsAbs() {
		return image
	}

	base, err := url.Parse(m.imageBaseURL)
	if err != nil {
		return image
	}

	return base.ResolveReference(ref).String()
}

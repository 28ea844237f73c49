package notify

import (
	"cmp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lysyi3m/broadcast/internal/feed"
)

// Discord embed limits, counted in characters.
const (
	maxTitle       = 256
	maxDescription = 4096
	maxFieldValue  = 1024
	maxAuthor      = 256

	untitled      = "(untitled)"
	defaultFooter = "Broadcast"
)

type webhookPayload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Color       int          `json:"color"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Image       *embedImage  `json:"image,omitempty"`
	Author      *embedAuthor `json:"author,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type embedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embedAuthor struct {
	Name string `json:"name"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Style holds the per-source presentation settings. Label names the source
// in the author slot when the item has no author of its own.
type Style struct {
	Color int
	Label string
}

// alwaysUpper lists words kept fully capitalized when un-slugging.
var alwaysUpper = map[string]struct{}{
	"COD": {},
	"CDL": {},
}

type formatter struct {
	username   string
	avatarURL  string
	footer     string
	footerIcon string
	styles     map[feed.SourceID]Style
	now        func() time.Time
}

func (f *formatter) payload(item feed.Item) webhookPayload {
	style := f.styles[item.Source]
	e := embed{
		Title:       truncate(cleanLine(item.Title), maxTitle),
		Description: truncate(strings.TrimSpace(item.Summary), maxDescription),
		URL:         item.Link,
		Color:       style.Color,
		Footer:      &embedFooter{Text: f.footer, IconURL: f.footerIcon},
	}
	if e.Title == "" {
		e.Title = untitled
	}

	ts := f.now()
	if item.PublishedAt != nil && !item.PublishedAt.IsZero() {
		ts = *item.PublishedAt
	}
	e.Timestamp = ts.UTC().Format(time.RFC3339)

	if item.ImageURL != "" {
		e.Image = &embedImage{URL: item.ImageURL}
	}
	if author := cmp.Or(cleanLine(item.Author), cleanLine(style.Label)); author != "" {
		e.Author = &embedAuthor{Name: truncate(author, maxAuthor)}
	}
	if categories := f.categories(item.Categories); categories != "" {
		e.Fields = append(e.Fields, embedField{Name: "Categories", Value: truncate(categories, maxFieldValue), Inline: true})
	}

	return webhookPayload{
		Username:  f.username,
		AvatarURL: f.avatarURL,
		Embeds:    []embed{e},
	}
}

var levelColors = map[zerolog.Level]int{
	zerolog.TraceLevel: 0x95A5A6,
	zerolog.DebugLevel: 0x95A5A6,
	zerolog.InfoLevel:  0x3498DB,
	zerolog.WarnLevel:  0xF1C40F,
	zerolog.ErrorLevel: 0xE74C3C,
	zerolog.FatalLevel: 0x992D22,
	zerolog.PanicLevel: 0x992D22,
}

func (f *formatter) logPayload(level zerolog.Level, message string) webhookPayload {
	title := strings.ToUpper(level.String())
	if title == "" {
		title = "LOG"
	}

	return webhookPayload{
		Username:  f.username,
		AvatarURL: f.avatarURL,
		Embeds: []embed{{
			Title:       title,
			Description: truncate(strings.TrimSpace(message), maxDescription),
			Timestamp:   f.now().UTC().Format(time.RFC3339),
			Color:       levelColors[level],
			Footer:      &embedFooter{Text: f.footer, IconURL: f.footerIcon},
		}},
	}
}

// categories turns slugs like "black-ops" into "Black Ops" and joins them.
func (f *formatter) categories(raw []string) string {
	// Casers keep state, so each call gets its own.
	title := cases.Title(language.English)
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		for _, part := range strings.Split(c, ",") {
			words := strings.FieldsFunc(part, isSlugSeparator)
			if len(words) == 0 {
				continue
			}
			for i, w := range words {
				if _, ok := alwaysUpper[strings.ToUpper(w)]; ok {
					words[i] = strings.ToUpper(w)
				} else {
					words[i] = title.String(w)
				}
			}
			name := strings.Join(words, " ")
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return strings.Join(out, ", ")
}

func isSlugSeparator(r rune) bool {
	return r == '-' || r == '_' || r == ' ' || r == '\t' || r == '\n'
}

func cleanLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

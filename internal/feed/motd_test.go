package feed

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/broadcast/internal/state"
)

func TestMOTDSource_Parse(t *testing.T) {
	doc := `{
  "mobileMotd": [
    {
      "name": "season-4",
      "data": {
        "title": "Season 4 is live",
        "entryText": "<p>New <b>maps</b></p><p>New modes</p>",
        "image": "/content/season4.jpg",
        "url": " https://example.com/season-4 "
      }
    },
    {
      "data": {"title": "No name", "entryText": "Body text"}
    },
    {
      "name": "abs-image",
      "data": {"title": "Absolute", "image": "https://other.example.com/a.png"}
    }
  ],
  "otherKey": []
}`

	source := NewMOTDSource(MOTDOptions{ImageBaseURL: "https://cdn.example.com/base/"}, nil, zerolog.Nop())
	items, err := source.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, SourceMOTD, items[0].Source)
	assert.Equal(t, "season-4", items[0].ID)
	assert.Equal(t, "Season 4 is live", items[0].Title)
	assert.Equal(t, "New maps\nNew modes", items[0].Summary)
	assert.Equal(t, "https://example.com/season-4", items[0].Link)
	assert.Equal(t, "https://cdn.example.com/content/season4.jpg", items[0].ImageURL)
	assert.Nil(t, items[0].PublishedAt)

	assert.Equal(t, contentHash("No name", "Body text"), items[1].ID)
	assert.Equal(t, "https://other.example.com/a.png", items[2].ImageURL)
}

func TestMOTDSource_CustomKey(t *testing.T) {
	source := NewMOTDSource(MOTDOptions{Key: "motd"}, nil, zerolog.Nop())
	items, err := source.Parse([]byte(`{"motd": [{"name": "a", "data": {"title": "A"}}], "mobileMotd": [{"name": "b"}]}`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
}

func TestMOTDSource_Mode(t *testing.T) {
	assert.Equal(t, state.ModeSet, NewMOTDSource(MOTDOptions{}, nil, zerolog.Nop()).Mode())
	assert.Equal(t, state.ModeCursor, NewMOTDSource(MOTDOptions{Mode: state.ModeCursor}, nil, zerolog.Nop()).Mode())
}

func TestMOTDSource_ParseShapes(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantErr   bool
		wantItems int
	}{
		{name: "missing key", doc: `{"other": []}`},
		{name: "null list", doc: `{"mobileMotd": null}`},
		{name: "empty list", doc: `{"mobileMotd": []}`},
		{name: "not json", doc: `<html></html>`, wantErr: true},
		{name: "top level array", doc: `[1, 2]`, wantErr: true},
		{name: "not a list", doc: `{"mobileMotd": {"name": "x"}}`, wantErr: true},
		{
			name:      "bad entries skipped",
			doc:       `{"mobileMotd": ["text", {"name": 5}, {"data": {}}, {"name": "ok"}]}`,
			wantItems: 1,
		},
	}

	source := NewMOTDSource(MOTDOptions{}, nil, zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := source.Parse([]byte(tt.doc))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.wantItems)
		})
	}
}

func TestMOTDSource_ResolveImage(t *testing.T) {
	tests := []struct {
		base  string
		image string
		want  string
	}{
		{base: "", image: "/img/a.jpg", want: "/img/a.jpg"},
		{base: "https://cdn.example.com", image: "/img/a.jpg", want: "https://cdn.example.com/img/a.jpg"},
		{base: "https://cdn.example.com/x/", image: "img/a.jpg", want: "https://cdn.example.com/x/img/a.jpg"},
		{base: "https://cdn.example.com", image: "https://elsewhere.com/a.jpg", want: "https://elsewhere.com/a.jpg"},
		{base: "https://cdn.example.com", image: "  ", want: ""},
	}

	for _, tt := range tests {
		source := NewMOTDSource(MOTDOptions{ImageBaseURL: tt.base}, nil, zerolog.Nop())
		assert.Equal(t, tt.want, source.resolveImage(tt.image), "base=%q image=%q", tt.base, tt.image)
	}
}

func TestMOTDSource_Fetch(t *testing.T) {
	srv := newDocServer(t, `{"mobileMotd": []}`)

	source := NewMOTDSource(MOTDOptions{URL: srv.URL}, newTestFetcher(srv.Client()), zerolog.Nop())
	assert.Equal(t, SourceMOTD, source.ID())
	assert.Equal(t, state.ModeSet, source.Mode())

	_, err := source.Fetch(context.Background())
	assert.Equal(t, Empty, KindOf(err))

	srv.set(http.StatusOK, `{"mobileMotd": "nope"}`)
	_, err = source.Fetch(context.Background())
	assert.Equal(t, Malformed, KindOf(err))
	assert.Contains(t, err.Error(), "motd fetch malformed")

	srv.set(http.StatusServiceUnavailable, "")
	_, err = source.Fetch(context.Background())
	assert.Equal(t, Unreachable, KindOf(err))

	srv.set(http.StatusOK, `{"mobileMotd": [{"name": "one", "data": {"title": "One"}}, {"name": "two", "data": {"title": "Two"}}]}`)
	items, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "one", items[0].ID)
	assert.Equal(t, "two", items[1].ID)
}

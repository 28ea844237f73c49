package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/lysyi3m/broadcast/internal/state"
)

type SourceID string

const (
	SourceBlog SourceID = "blog"
	SourceMOTD SourceID = "motd"
)

func (s SourceID) String() string { return string(s) }

// Item is a normalized unit of content from a source. Only Source and ID
// take part in change detection; the rest is display data.
type Item struct {
	Source      SourceID
	ID          string
	Title       string
	Summary     string
	Link        string
	ImageURL    string
	Author      string
	Categories  []string
	PublishedAt *time.Time

	IsFiltered   bool
	FilterReason string
}

// Source fetches the full current content of one remote endpoint.
// Implementations must not read or write persisted state.
type Source interface {
	ID() SourceID
	Mode() state.Mode
	Fetch(ctx context.Context) ([]Item, error)
}

type Filter struct {
	Field    string
	Includes []string
	Excludes []string
}

func contentHash(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

package config

import (
	"strconv"

	"github.com/lysyi3m/broadcast/internal/feed"
	"github.com/lysyi3m/broadcast/internal/notify"
)

// EnabledSources returns the enabled source ids in run order.
func (c *Config) EnabledSources() []feed.SourceID {
	var ids []feed.SourceID
	if c.Sources.Blog.Enabled {
		ids = append(ids, feed.SourceBlog)
	}
	if c.Sources.MOTD.Enabled {
		ids = append(ids, feed.SourceMOTD)
	}
	return ids
}

// ColorValue returns the embed color as an integer. Invalid values fall
// back to white; validation rejects them earlier.
func (s SourceSettings) ColorValue() int {
	v, err := strconv.ParseInt(s.Color, 16, 32)
	if err != nil {
		return 0xFFFFFF
	}
	return int(v)
}

func (s SourceSettings) Style() notify.Style {
	return notify.Style{Color: s.ColorValue(), Label: s.Label}
}

func (s SourceSettings) FeedFilters() []feed.Filter {
	if len(s.Filters) == 0 {
		return nil
	}
	filters := make([]feed.Filter, 0, len(s.Filters))
	for _, f := range s.Filters {
		filters = append(filters, feed.Filter{Field: f.Field, Includes: f.Includes, Excludes: f.Excludes})
	}
	return filters
}

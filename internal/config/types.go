package config

import "time"

// Config is the content of the YAML configuration file.
type Config struct {
	WebhookURL string `yaml:"webhook_url" validate:"required,url"`
	Username   string `yaml:"username"`
	AvatarURL  string `yaml:"avatar_url" validate:"omitempty,url"`

	Sources  SourcesConfig  `yaml:"sources"`
	State    StateConfig    `yaml:"state"`
	Notifier NotifierConfig `yaml:"notifier"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Run      RunConfig      `yaml:"run"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type SourcesConfig struct {
	Blog BlogConfig `yaml:"blog"`
	MOTD MOTDConfig `yaml:"motd"`
}

// SourceSettings are shared by every source. URL may contain the
// "{language}" placeholder. Label names the source in its embeds.
type SourceSettings struct {
	Enabled     bool     `yaml:"enabled"`
	URL         string   `yaml:"url" validate:"omitempty,url"`
	Language    string   `yaml:"language" validate:"omitempty,bcp47_language_tag"`
	Color       string   `yaml:"color" validate:"omitempty,hexadecimal,max=6"`
	Label       string   `yaml:"label" validate:"max=256"`
	MaxKnown    int      `yaml:"max_known" validate:"gte=0"`
	FailOnEmpty bool     `yaml:"fail_on_empty"`
	Filters     []Filter `yaml:"filters" validate:"dive"`
}

type BlogConfig struct {
	SourceSettings `yaml:",inline"`
	ExtractSummary bool `yaml:"extract_summary"`
}

type MOTDConfig struct {
	SourceSettings `yaml:",inline"`
	Key            string `yaml:"key"`
	ImageBaseURL   string `yaml:"image_base_url" validate:"omitempty,url"`
	// Tracking is "set" (default) or "cursor". Cursor tracking only suits a
	// document that carries one active message at a time.
	Tracking string `yaml:"tracking" validate:"omitempty,oneof=set cursor"`
}

// Filter represents a content filter rule
type Filter struct {
	Field    string   `yaml:"field" validate:"required,filter_field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

type StateConfig struct {
	Driver      string        `yaml:"driver" validate:"omitempty,oneof=file json sqlite sqlite3"`
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

type NotifierConfig struct {
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
	RetryMax      int           `yaml:"retry_max" validate:"gte=0,lte=10"`
	RetryBase     time.Duration `yaml:"retry_base" validate:"gte=0"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" validate:"gte=0"`
	RetryJitter   float64       `yaml:"retry_jitter" validate:"gte=0,lte=1"`
	RatePerSec    float64       `yaml:"rate_per_sec" validate:"gte=0"`
	FooterText    string        `yaml:"footer_text"`
	FooterIconURL string        `yaml:"footer_icon_url" validate:"omitempty,url"`
}

type FetchConfig struct {
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

type RunConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Workers int           `yaml:"workers" validate:"gte=0,lte=8"`
}

type LoggingConfig struct {
	Level   string               `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	JSON    bool                 `yaml:"json"`
	Discord DiscordLoggingConfig `yaml:"discord"`
}

// DiscordLoggingConfig forwards log entries at or above Level to a webhook.
type DiscordLoggingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Level      string  `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	WebhookURL string  `yaml:"webhook_url" validate:"omitempty,url"`
	RatePerSec float64 `yaml:"rate_per_sec" validate:"gte=0"`
}

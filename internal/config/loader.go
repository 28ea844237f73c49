package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/broadcast/internal/feed"
	"github.com/lysyi3m/broadcast/internal/state"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const languagePlaceholder = "{language}"

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}
	return config, nil
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	expandEnv(&config)
	setDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// expandEnv resolves ${VAR} references in values that usually carry
// secrets, so they can live in the environment or a .env file.
func expandEnv(config *Config) {
	config.WebhookURL = os.ExpandEnv(config.WebhookURL)
	config.AvatarURL = os.ExpandEnv(config.AvatarURL)
	config.State.Path = os.ExpandEnv(config.State.Path)
	config.Logging.Discord.WebhookURL = os.ExpandEnv(config.Logging.Discord.WebhookURL)
}

// setDefaults applies default values to configuration
func setDefaults(config *Config) {
	if config.Username == "" {
		config.Username = "Broadcast"
	}

	setSourceDefaults(&config.Sources.Blog.SourceSettings, "Blog")
	setSourceDefaults(&config.Sources.MOTD.SourceSettings, "Message of the Day")

	if config.Sources.MOTD.Key == "" {
		config.Sources.MOTD.Key = feed.DefaultMOTDKey
	}
	if config.Sources.MOTD.Tracking == "" {
		config.Sources.MOTD.Tracking = string(state.ModeSet)
	}

	if config.State.Driver == "" {
		config.State.Driver = "file"
	}
	if config.State.Path == "" {
		config.State.Path = "./history.json"
	}

	if config.Notifier.Timeout == 0 {
		config.Notifier.Timeout = 10 * time.Second
	}
	if config.Notifier.RetryMax == 0 {
		config.Notifier.RetryMax = 3
	}
	if config.Notifier.RetryBase == 0 {
		config.Notifier.RetryBase = time.Second
	}
	if config.Notifier.RetryMaxDelay == 0 {
		config.Notifier.RetryMaxDelay = 30 * time.Second
	}
	if config.Notifier.RatePerSec == 0 {
		config.Notifier.RatePerSec = 2
	}

	if config.Fetch.Timeout == 0 {
		config.Fetch.Timeout = 15 * time.Second
	}
	if config.Fetch.RetryDelay == 0 {
		config.Fetch.RetryDelay = 10 * time.Second
	}

	if config.Run.Timeout == 0 {
		config.Run.Timeout = 5 * time.Minute
	}
	if config.Run.Workers == 0 {
		config.Run.Workers = 1
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Discord.Level == "" {
		config.Logging.Discord.Level = "warn"
	}
	if config.Logging.Discord.RatePerSec == 0 {
		config.Logging.Discord.RatePerSec = 1
	}
}

func setSourceDefaults(s *SourceSettings, label string) {
	if s.Language == "" {
		s.Language = "en"
	}
	if s.Label == "" {
		s.Label = label
	}
	if s.MaxKnown == 0 {
		s.MaxKnown = state.DefaultMaxKnown
	}
	s.Color = strings.TrimPrefix(strings.TrimSpace(s.Color), "#")
	if s.Color == "" {
		s.Color = "FFFFFF"
	}
	s.URL = strings.ReplaceAll(s.URL, languagePlaceholder, s.Language)
}

// validate validates the configuration
func validate(config *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(yamlName)
	if err := v.RegisterValidation("filter_field", func(fl validator.FieldLevel) bool {
		return slices.Contains(feed.FilterFields, fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register validation: %w", err)
	}

	if err := v.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if !config.Sources.Blog.Enabled && !config.Sources.MOTD.Enabled {
		return fmt.Errorf("%w: at least one source must be enabled", ErrInvalid)
	}

	sources := map[string]SourceSettings{
		feed.SourceBlog.String(): config.Sources.Blog.SourceSettings,
		feed.SourceMOTD.String(): config.Sources.MOTD.SourceSettings,
	}
	for name, s := range sources {
		if s.Enabled && s.URL == "" {
			return fmt.Errorf("%w: sources.%s.url is required when the source is enabled", ErrInvalid, name)
		}
		for i, filter := range s.Filters {
			if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
				return fmt.Errorf("%w: sources.%s filter at index %d must have at least one include or exclude rule", ErrInvalid, name, i)
			}
		}
	}

	if d := config.Logging.Discord; d.Enabled && d.WebhookURL == "" {
		return fmt.Errorf("%w: logging.discord.webhook_url is required when discord logging is enabled", ErrInvalid)
	}

	if config.Notifier.RetryMaxDelay < config.Notifier.RetryBase {
		return fmt.Errorf("%w: notifier.retry_max_delay must not be below notifier.retry_base", ErrInvalid)
	}

	return nil
}

func yamlName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lysyi3m/broadcast/internal/cfg"
	"github.com/lysyi3m/broadcast/internal/config"
	"github.com/lysyi3m/broadcast/internal/detect"
	"github.com/lysyi3m/broadcast/internal/feed"
	"github.com/lysyi3m/broadcast/internal/logging"
	"github.com/lysyi3m/broadcast/internal/notify"
	"github.com/lysyi3m/broadcast/internal/state"
	"github.com/lysyi3m/broadcast/internal/tasks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := cfg.LoadEnvFile(cfg.EnvFileFromArgs(args, ".env")); err != nil {
		fmt.Fprintf(stderr, "broadcast: %v\n", err)
		return tasks.ExitConfig
	}

	opts, err := cfg.Load(args)
	if err != nil {
		// go-flags already printed the problem
		return tasks.ExitConfig
	}
	if opts == nil {
		return tasks.ExitOK
	}
	if opts.ShowVersion {
		fmt.Fprintf(stdout, "broadcast %s\n", opts.Version)
		return tasks.ExitOK
	}

	conf, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "broadcast: failed to load configuration: %v\n", err)
		return tasks.ExitConfig
	}
	applyOverrides(conf, opts)

	runID := uuid.NewString()
	logCfg := logging.Config{Level: conf.Logging.Level, JSON: conf.Logging.JSON}
	log := logging.New(logCfg, stderr)

	if conf.Logging.Discord.Enabled {
		forwarder, err := newLogForwarder(conf, http.DefaultClient, log)
		if err != nil {
			fmt.Fprintf(stderr, "broadcast: %v\n", err)
			return tasks.ExitConfig
		}
		defer closeLogForwarder(forwarder, log)
		log = logging.New(logCfg, stderr, forwarder)
	}

	log = log.With().Str("run_id", runID).Logger()

	log.Debug().Str("version", opts.Version).Str("config", opts.ConfigPath).Msg("Configuration loaded")

	store, err := state.Open(state.Config{
		Driver:      conf.State.Driver,
		Path:        conf.State.Path,
		BusyTimeout: conf.State.BusyTimeout,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open state store")
		fmt.Fprintf(stderr, "broadcast: failed to open state store: %v\n", err)
		return tasks.ExitConfig
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close state store")
		}
	}()

	if opts.ShowState {
		if err := showState(ctx, store, stdout); err != nil {
			fmt.Fprintf(stderr, "broadcast: %v\n", err)
			return tasks.ExitSourceFailed
		}
		return tasks.ExitOK
	}

	runTasks, err := buildTasks(conf, opts, store, http.DefaultClient, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to set up sources")
		fmt.Fprintf(stderr, "broadcast: %v\n", err)
		return tasks.ExitConfig
	}

	if opts.DryRun {
		log.Warn().Msg("Dry run active, nothing will be delivered or saved")
	}

	runCtx, cancel := context.WithTimeout(ctx, conf.Run.Timeout)
	defer cancel()

	runner := tasks.NewRunner(conf.Run.Workers, conf.Run.Timeout, log)
	report := runner.Run(runCtx, runID, runTasks)

	if err := report.WriteSummary(stderr); err != nil {
		log.Warn().Err(err).Msg("Failed to write run summary")
	}

	code := report.ExitCode(opts.FailOnDeliveryError)
	log.Info().
		Int("sources", len(report.Results)).
		Int("failed", len(report.Failed())).
		Int("degraded", len(report.Degraded())).
		Dur("duration", report.Duration).
		Int("exit_code", code).
		Msg("Run finished")

	return code
}

func applyOverrides(conf *config.Config, opts *cfg.Cfg) {
	if opts.StateDriver != "" {
		conf.State.Driver = opts.StateDriver
	}
	if opts.StatePath != "" {
		conf.State.Path = opts.StatePath
	}
	if opts.LogLevel != "" {
		conf.Logging.Level = opts.LogLevel
	}
	if opts.LogJSON {
		conf.Logging.JSON = true
	}
}

func buildTasks(conf *config.Config, opts *cfg.Cfg, store state.Store, client *http.Client, log zerolog.Logger) ([]tasks.TaskInterface, error) {
	fetcher := feed.NewFetcher(client, feed.FetcherOptions{
		UserAgent:  opts.UserAgent,
		Timeout:    conf.Fetch.Timeout,
		RetryDelay: conf.Fetch.RetryDelay,
	}, log)

	notifier, err := notify.NewDiscord(client, notify.Options{
		WebhookURL:    conf.WebhookURL,
		Username:      conf.Username,
		AvatarURL:     conf.AvatarURL,
		FooterText:    conf.Notifier.FooterText,
		FooterIconURL: conf.Notifier.FooterIconURL,
		Styles: map[feed.SourceID]notify.Style{
			feed.SourceBlog: conf.Sources.Blog.Style(),
			feed.SourceMOTD: conf.Sources.MOTD.Style(),
		},
		Timeout:       conf.Notifier.Timeout,
		RetryMax:      conf.Notifier.RetryMax,
		RetryBase:     conf.Notifier.RetryBase,
		RetryMaxDelay: conf.Notifier.RetryMaxDelay,
		RetryJitter:   conf.Notifier.RetryJitter,
		RatePerSec:    conf.Notifier.RatePerSec,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	var out []tasks.TaskInterface
	for _, id := range conf.EnabledSources() {
		var (
			source   feed.Source
			settings config.SourceSettings
			detector *detect.Detector
			relay    = tasks.RelayOptions{DryRun: opts.DryRun}
		)

		switch id {
		case feed.SourceBlog:
			blog := conf.Sources.Blog
			settings = blog.SourceSettings
			source = feed.NewBlogSource(blog.URL, fetcher, log)
			if blog.ExtractSummary {
				relay.Extractor = feed.NewSummaryExtractor(fetcher, log)
			}
		case feed.SourceMOTD:
			motd := conf.Sources.MOTD
			settings = motd.SourceSettings
			source = feed.NewMOTDSource(feed.MOTDOptions{
				URL:          motd.URL,
				Key:          motd.Key,
				ImageBaseURL: motd.ImageBaseURL,
				Mode:         state.Mode(motd.Tracking),
			}, fetcher, log)
		default:
			return nil, fmt.Errorf("unknown source %q", id)
		}

		detector = detect.New(detect.WithMaxKnown(settings.MaxKnown))
		relay.Filters = settings.FeedFilters()
		relay.FailOnEmpty = settings.FailOnEmpty

		out = append(out, tasks.NewRelayTask(source, store, detector, notifier, relay, log))
	}

	return out, nil
}

// newLogForwarder sends log entries to the configured logging webhook. Its
// notifier logs through log, which never forwards, so failures to post a log
// entry cannot loop back into the webhook.
func newLogForwarder(conf *config.Config, client *http.Client, log zerolog.Logger) (*logging.WebhookWriter, error) {
	sender, err := notify.NewDiscord(client, notify.Options{
		WebhookURL:    conf.Logging.Discord.WebhookURL,
		Username:      conf.Username,
		AvatarURL:     conf.AvatarURL,
		FooterText:    conf.Notifier.FooterText,
		FooterIconURL: conf.Notifier.FooterIconURL,
		Timeout:       conf.Notifier.Timeout,
		RetryMax:      conf.Notifier.RetryMax,
		RetryBase:     conf.Notifier.RetryBase,
		RetryMaxDelay: conf.Notifier.RetryMaxDelay,
		RatePerSec:    conf.Logging.Discord.RatePerSec,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create log forwarder: %w", err)
	}

	level := logging.ParseLevel(conf.Logging.Discord.Level, zerolog.WarnLevel)
	log.Debug().Str("level", level.String()).Msg("Forwarding logs to Discord")

	return logging.NewWebhookWriter(sender, level, 64), nil
}

func closeLogForwarder(w *logging.WebhookWriter, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dropped, err := w.Close(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to flush forwarded logs")
	}
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("Some log entries were not forwarded")
	}
}

func showState(ctx context.Context, store state.Store, w io.Writer) error {
	all, err := store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if all == nil {
		all = []state.SourceState{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}

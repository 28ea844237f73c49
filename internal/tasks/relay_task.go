package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lysyi3m/broadcast/internal/detect"
	"github.com/lysyi3m/broadcast/internal/feed"
	"github.com/lysyi3m/broadcast/internal/notify"
	"github.com/lysyi3m/broadcast/internal/state"
)

type RelayOptions struct {
	Filters     []feed.Filter
	FailOnEmpty bool
	DryRun      bool
	Extractor   SummaryExtractor
}

// RelayTask moves one source through fetch, detect, deliver and persist.
type RelayTask struct {
	Task
	source   feed.Source
	store    state.Store
	detector *detect.Detector
	notifier notify.Notifier
	filterer *feed.Filterer
	opt      RelayOptions
	log      zerolog.Logger
}

func NewRelayTask(source feed.Source, store state.Store, detector *detect.Detector, notifier notify.Notifier, opt RelayOptions, log zerolog.Logger) *RelayTask {
	return &RelayTask{
		Task:     NewTask(TaskTypeRelay, source.ID().String()),
		source:   source,
		store:    store,
		detector: detector,
		notifier: notifier,
		filterer: feed.NewFilterer(),
		opt:      opt,
		log:      log.With().Str("source", source.ID().String()).Logger(),
	}
}

func (t *RelayTask) Execute(ctx context.Context) Result {
	res := Result{Source: t.SourceID, Phase: PhaseIdle, DryRun: t.opt.DryRun}

	select {
	case <-ctx.Done():
		return res.fail(fmt.Errorf("run cancelled before start: %w", ctx.Err()))
	default:
	}

	res.Phase = PhaseFetching
	items, err := t.source.Fetch(ctx)
	if err != nil {
		if feed.IsEmpty(err) && !t.opt.FailOnEmpty {
			t.log.Info().Msg("Source returned no items")
			res.Phase = PhaseDone
			res.Duration = t.GetDuration()
			return res
		}
		return res.fail(fmt.Errorf("failed to fetch source: %w", err))
	}
	res.Fetched = len(items)

	res.Phase = PhaseDetecting
	current, err := t.store.Load(ctx, t.SourceID, t.source.Mode())
	switch {
	case errors.Is(err, state.ErrCorruptState):
		t.log.Warn().Err(err).Msg("Persisted state unreadable, starting from empty state")
		res.StateRecovered = true
	case err != nil:
		return res.fail(fmt.Errorf("failed to load state: %w", err))
	}

	if current.IsEmpty() {
		t.log.Info().Int("items", len(items)).Msg("Source previously untracked, seeding state without notifying")
	}

	fresh, updated := t.detector.Detect(items, current)
	res.New = len(fresh)
	if len(fresh) == 0 {
		t.log.Debug().Msg("Source not updated")
	}

	fresh = t.filterer.Run(fresh, t.opt.Filters)
	t.enrich(ctx, fresh)

	res.Phase = PhaseDelivering
	for _, item := range fresh {
		if item.IsFiltered {
			res.Filtered++
			t.log.Debug().Str("item_id", item.ID).Str("reason", item.FilterReason).Msg("Item filtered")
			continue
		}
		if t.opt.DryRun {
			t.log.Info().Str("item_id", item.ID).Str("title", item.Title).Str("link", item.Link).Msg("Dry run, would deliver item")
			continue
		}

		if err := t.notifier.Notify(ctx, item); err != nil {
			res.Failures = append(res.Failures, ItemFailure{ItemID: item.ID, Err: err})
			t.log.Error().Err(err).Str("item_id", item.ID).Str("kind", deliveryKind(err)).Msg("Failed to deliver item")
			continue
		}
		res.Delivered++
		t.log.Info().Str("item_id", item.ID).Str("title", item.Title).Msg("New item delivered")
	}

	res.Phase = PhasePersisting
	if t.opt.DryRun {
		t.log.Warn().Msg("Dry run active, not saving state")
	} else if err := t.store.Save(ctx, updated); err != nil {
		return res.fail(fmt.Errorf("failed to save state: %w", err))
	}

	res.Phase = PhaseDone
	res.Duration = t.GetDuration()

	t.log.Info().
		Str("type", string(t.Type)).
		Dur("duration", res.Duration).
		Int("total", res.Fetched).
		Int("new", res.New).
		Int("delivered", res.Delivered).
		Int("failed", len(res.Failures)).
		Int("filtered", res.Filtered).
		Msg("Task completed")

	return res
}

// enrich fills empty summaries from the linked page. Failures leave the
// item as it was.
func (t *RelayTask) enrich(ctx context.Context, items []feed.Item) {
	if t.opt.Extractor == nil {
		return
	}
	for i := range items {
		if items[i].IsFiltered || items[i].Summary != "" || items[i].Link == "" {
			continue
		}
		summary, err := t.opt.Extractor.Run(ctx, items[i].Link)
		if err != nil {
			t.log.Warn().Err(err).Str("item_id", items[i].ID).Msg("Failed to extract summary")
			continue
		}
		items[i].Summary = summary
	}
}

func deliveryKind(err error) string {
	var de *notify.DeliveryError
	if errors.As(err, &de) {
		return de.Kind.String()
	}
	return "unknown"
}

package tasks

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/broadcast/internal/feed"
	"github.com/lysyi3m/broadcast/internal/notify"
	"github.com/lysyi3m/broadcast/internal/state"
)

func motdSource(ids ...string) *fakeSource {
	items := make([]feed.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, feed.Item{Source: feed.SourceMOTD, ID: id, Title: "MOTD " + id})
	}
	return &fakeSource{id: feed.SourceMOTD, mode: state.ModeCursor, items: items}
}

func relayTasks(store state.Store, n notify.Notifier, sources ...feed.Source) []TaskInterface {
	out := make([]TaskInterface, 0, len(sources))
	for _, s := range sources {
		out = append(out, NewRelayTask(s, store, testDetector(), n, RelayOptions{}, zerolog.Nop()))
	}
	return out
}

func TestRunner_IsolatesFailingSource(t *testing.T) {
	store := newMemStore()
	seed(store, "blog", "old")
	store.states["motd"] = state.SourceState{Source: "motd", Mode: state.ModeCursor, Cursor: "m1", UpdatedAt: time.Now()}
	n := &recordingNotifier{}

	broken := &fakeSource{id: feed.SourceBlog, mode: state.ModeSet, explode: true}
	runner := NewRunner(1, time.Minute, zerolog.Nop())

	report := runner.Run(context.Background(), "run-1", relayTasks(store, n, broken, motdSource("m2")))

	require.Len(t, report.Results, 2)
	assert.Equal(t, "run-1", report.RunID)

	blog := report.Results[0]
	assert.Equal(t, "blog", blog.Source)
	assert.Equal(t, "panic", ErrorKind(blog.Err))
	assert.Equal(t, PhaseUnknown, blog.Phase)

	motd := report.Results[1]
	require.NoError(t, motd.Err)
	assert.Equal(t, []string{"motd:m2"}, n.sent())
	assert.Equal(t, "m2", store.get("motd").Cursor)

	assert.Equal(t, ExitSourceFailed, report.ExitCode(false))
	require.Len(t, report.Failed(), 1)
}

func TestRunner_ConcurrentWorkersKeepOrder(t *testing.T) {
	store := newMemStore()
	seed(store, "blog", "old")
	store.states["motd"] = state.SourceState{Source: "motd", Mode: state.ModeCursor, Cursor: "m0", UpdatedAt: time.Now()}
	n := &recordingNotifier{}

	runner := NewRunner(2, time.Minute, zerolog.Nop())
	report := runner.Run(context.Background(), "run-2", relayTasks(store, n, blogSource("old", "A", "B", "C"), motdSource("m0", "m1", "m2")))

	require.Len(t, report.Results, 2)
	assert.Equal(t, "blog", report.Results[0].Source)
	assert.Equal(t, "motd", report.Results[1].Source)
	assert.Equal(t, ExitOK, report.ExitCode(true))

	var blog, motd []string
	for _, s := range n.sent() {
		if s[:4] == "blog" {
			blog = append(blog, s)
		} else {
			motd = append(motd, s)
		}
	}
	assert.Equal(t, []string{"blog:A", "blog:B", "blog:C"}, blog)
	assert.Equal(t, []string{"motd:m1", "motd:m2"}, motd)
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(1, time.Minute, zerolog.Nop())
	report := runner.Run(ctx, "run-3", relayTasks(newMemStore(), &recordingNotifier{}, blogSource("a")))

	require.Len(t, report.Results, 1)
	assert.ErrorIs(t, report.Results[0].Err, context.Canceled)
	assert.Equal(t, PhaseIdle, report.Results[0].Phase)
}

func TestReport_WriteSummary(t *testing.T) {
	report := Report{Results: []Result{
		{Source: "blog", Phase: PhaseFetching, Err: &feed.FetchError{Source: feed.SourceBlog, Kind: feed.Unreachable, Err: errors.New("timeout")}},
		{Source: "motd", Phase: PhaseDone, New: 2, Delivered: 1, Failures: []ItemFailure{
			{ItemID: "m2", Err: &notify.DeliveryError{Kind: notify.Permanent, Status: 401, Attempts: 1, Err: errors.New("unauthorized")}},
		}, StateRecovered: true},
	}}

	var buf bytes.Buffer
	require.NoError(t, report.WriteSummary(&buf))

	out := buf.String()
	assert.Contains(t, out, "blog: FAILED in fetching (fetch unreachable)")
	assert.Contains(t, out, "motd: completed with 1 delivery failure(s), delivered 1 of 2 new")
	assert.Contains(t, out, "m2: delivery permanent")
	assert.Contains(t, out, "motd: persisted state was unreadable")
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "none", ErrorKind(nil))
	assert.Equal(t, "persist", ErrorKind(errors.Join(state.ErrPersist, errors.New("x"))))
	assert.Equal(t, "corrupt state", ErrorKind(state.ErrCorruptState))
	assert.Equal(t, "error", ErrorKind(errors.New("other")))
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/broadcast/internal/notify"
)

type sentLog struct {
	level   zerolog.Level
	message string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentLog
	fail bool
}

func (f *fakeSender) SendLog(_ context.Context, level zerolog.Level, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, sentLog{level: level, message: message})
	return nil
}

func (f *fakeSender) all() []sentLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentLog(nil), f.sent...)
}

func closeWriter(t *testing.T, w *WebhookWriter) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dropped, err := w.Close(ctx)
	require.NoError(t, err)
	return dropped
}

func TestWebhookWriter_ForwardsAtOrAboveLevel(t *testing.T) {
	sender := &fakeSender{}
	fw := NewWebhookWriter(sender, zerolog.WarnLevel, 8)

	var console bytes.Buffer
	log := New(Config{Level: "debug"}, &console, fw)

	log.Debug().Msg("quiet")
	log.Info().Msg("still quiet")
	log.Warn().Str("source", "blog").Int("attempt", 2).Msg("Delivery failed, retrying")
	log.Error().Err(assert.AnError).Msg("Failed to save state")

	assert.Zero(t, closeWriter(t, fw))

	sent := sender.all()
	require.Len(t, sent, 2)
	assert.Equal(t, zerolog.WarnLevel, sent[0].level)
	assert.Equal(t, "Delivery failed, retrying\n- attempt=2\n- source=blog", sent[0].message)
	assert.Equal(t, zerolog.ErrorLevel, sent[1].level)
	assert.Contains(t, sent[1].message, "Failed to save state")
	assert.Contains(t, sent[1].message, "err="+assert.AnError.Error())

	// console output is unaffected
	assert.Contains(t, console.String(), "quiet")
}

func TestWebhookWriter_LevelFromEvent(t *testing.T) {
	sender := &fakeSender{}
	fw := NewWebhookWriter(sender, zerolog.ErrorLevel, 8)

	_, err := fw.Write([]byte(`{"level":"error","message":"boom"}`))
	require.NoError(t, err)
	_, err = fw.Write([]byte(`{"level":"info","message":"fine"}`))
	require.NoError(t, err)
	_, err = fw.Write([]byte(`not json`))
	require.NoError(t, err)

	closeWriter(t, fw)
	assert.Equal(t, []sentLog{{level: zerolog.ErrorLevel, message: "boom"}}, sender.all())
}

func TestWebhookWriter_CountsFailuresAndIgnoresLateWrites(t *testing.T) {
	sender := &fakeSender{fail: true}
	fw := NewWebhookWriter(sender, zerolog.InfoLevel, 8)

	_, _ = fw.WriteLevel(zerolog.ErrorLevel, []byte(`{"message":"lost"}`))
	assert.Equal(t, 1, closeWriter(t, fw))

	n, err := fw.WriteLevel(zerolog.ErrorLevel, []byte(`{"message":"after close"}`))
	assert.NoError(t, err)
	assert.Equal(t, len(`{"message":"after close"}`), n)
}

func TestWebhookWriter_PostsToDiscord(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender, err := notify.NewDiscord(srv.Client(), notify.Options{
		WebhookURL: srv.URL,
		Username:   "Broadcast",
		RatePerSec: 1000,
	}, zerolog.Nop())
	require.NoError(t, err)

	fw := NewWebhookWriter(sender, zerolog.WarnLevel, 8)
	log := New(Config{Level: "info", JSON: true}, &bytes.Buffer{}, fw)

	log.Info().Msg("Run finished")
	log.Error().Str("source", "motd").Msg("Task execution failed")
	closeWriter(t, fw)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads, 1)
	assert.Equal(t, "Broadcast", payloads[0]["username"])

	embed := payloads[0]["embeds"].([]any)[0].(map[string]any)
	assert.Equal(t, "ERROR", embed["title"])
	assert.Equal(t, "Task execution failed\n- source=motd", embed["description"])
	assert.Equal(t, float64(0xE74C3C), embed["color"])
}

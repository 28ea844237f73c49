package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogSender posts one rendered log entry to a remote channel.
type LogSender interface {
	SendLog(ctx context.Context, level zerolog.Level, message string) error
}

type logEntry struct {
	level   zerolog.Level
	message string
}

// WebhookWriter forwards entries at or above a minimum level to a
// LogSender. Sending happens on a background goroutine; entries are dropped
// when the queue is full so logging never blocks the run.
type WebhookWriter struct {
	sender  LogSender
	min     zerolog.Level
	timeout time.Duration

	entries chan logEntry
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

var _ zerolog.LevelWriter = (*WebhookWriter)(nil)

func NewWebhookWriter(sender LogSender, minLevel zerolog.Level, queue int) *WebhookWriter {
	if queue <= 0 {
		queue = 64
	}
	w := &WebhookWriter{
		sender:  sender,
		min:     minLevel,
		timeout: 30 * time.Second,
		entries: make(chan logEntry, queue),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *WebhookWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel queues p when its level qualifies. Entries without a level
// argument fall back to the "level" field of the event.
func (w *WebhookWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(p, &fields); err != nil {
		return len(p), nil
	}

	if level == zerolog.NoLevel {
		if s, ok := fields[zerolog.LevelFieldName].(string); ok {
			if l, err := zerolog.ParseLevel(s); err == nil {
				level = l
			}
		}
	}
	if level == zerolog.NoLevel || level < w.min || level == zerolog.Disabled {
		return len(p), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	select {
	case w.entries <- logEntry{level: level, message: renderEntry(fields)}:
	default:
		w.dropped++
	}
	return len(p), nil
}

// Close stops accepting entries and waits until the queue is drained or
// ctx is done. It reports how many entries were dropped.
func (w *WebhookWriter) Close(ctx context.Context) (int, error) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-ctx.Done():
		return w.droppedCount(), fmt.Errorf("log forwarding not drained: %w", ctx.Err())
	}
	return w.droppedCount(), nil
}

func (w *WebhookWriter) droppedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *WebhookWriter) loop() {
	defer close(w.done)
	for e := range w.entries {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.sender.SendLog(ctx, e.level, e.message); err != nil {
			w.mu.Lock()
			w.dropped++
			w.mu.Unlock()
		}
		cancel()
	}
}

// renderEntry turns an event into "message" followed by "- key=value"
// lines in key order.
func renderEntry(fields map[string]any) string {
	msg, _ := fields[zerolog.MessageFieldName].(string)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		switch k {
		case zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%v", k, fields[k])
	}
	return strings.TrimSpace(b.String())
}

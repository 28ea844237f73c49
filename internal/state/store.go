// Package state persists per-source change-detection records between
// invocations.
//
// Drivers:
//   - "file": a single indented JSON document, replaced atomically on save
//   - "sqlite": a SQLite database with schema managed by golang-migrate
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

func Open(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("state path is required")
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown state driver: %s", driver)
	}
}

// checkLoaded validates a decoded record against the requested source and
// mode. A mismatch is treated like corruption.
func checkLoaded(st SourceState, source string, mode Mode) error {
	if st.Source == "" {
		st.Source = source
	}
	if st.Source != source {
		return fmt.Errorf("%w: record for %q stored under %q", ErrCorruptState, st.Source, source)
	}
	if st.Mode != mode {
		return fmt.Errorf("%w: %s record has mode %q, want %q", ErrCorruptState, source, st.Mode, mode)
	}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptState, source, err)
	}
	return nil
}

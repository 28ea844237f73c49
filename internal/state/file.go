package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const fileFormatVersion = 1

// fileDocument is the on-disk layout. Records stay raw so one corrupt
// source never takes the others down with it.
type fileDocument struct {
	Version int                        `json:"version"`
	Sources map[string]json.RawMessage `json:"sources"`
}

type fileStamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

type fileStore struct {
	path string
	log  zerolog.Logger

	mu       sync.Mutex
	stamp    fileStamp
	observed bool
}

func openFile(cfg Config, log zerolog.Logger) (Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &fileStore{path: cfg.Path, log: log}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context, source string, mode Mode) (SourceState, error) {
	_ = ctx
	empty := NewSourceState(source, mode)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		if errors.Is(err, ErrCorruptState) {
			return empty, err
		}
		return empty, fmt.Errorf("failed to read state file: %w", err)
	}

	raw, ok := doc.Sources[source]
	if !ok {
		return empty, nil
	}

	var st SourceState
	if err := json.Unmarshal(raw, &st); err != nil {
		return empty, fmt.Errorf("%w: %s: %w", ErrCorruptState, source, err)
	}
	if st.Source == "" {
		st.Source = source
	}
	if err := checkLoaded(st, source, mode); err != nil {
		return empty, err
	}

	return st, nil
}

func (s *fileStore) Save(ctx context.Context, st SourceState) error {
	_ = ctx
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUnchangedLocked(); err != nil {
		return err
	}

	doc, err := s.readLocked()
	if err != nil && !errors.Is(err, ErrCorruptState) {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if doc.Sources == nil {
		doc.Sources = map[string]json.RawMessage{}
	}

	st.UpdatedAt = st.UpdatedAt.UTC()
	record, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersist, st.Source, err)
	}
	doc.Sources[st.Source] = record
	doc.Version = fileFormatVersion

	if err := s.writeLocked(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.log.Debug().Str("path", s.path).Str("source", st.Source).Msg("State saved")
	return nil
}

func (s *fileStore) All(ctx context.Context) ([]SourceState, error) {
	s.mu.Lock()
	doc, err := s.readLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(doc.Sources))
	for name := range doc.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SourceState, 0, len(names))
	for _, name := range names {
		var st SourceState
		if err := json.Unmarshal(doc.Sources[name], &st); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptState, name, err)
		}
		if st.Source == "" {
			st.Source = name
		}
		out = append(out, st)
	}
	return out, nil
}

// readLocked returns the current document. A missing file is an empty
// document; an undecodable one yields ErrCorruptState with an empty
// document so callers can still write over it.
func (s *fileStore) readLocked() (fileDocument, error) {
	doc := fileDocument{Sources: map[string]json.RawMessage{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.observeLocked()
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	s.observeLocked()

	if len(data) == 0 {
		return doc, fmt.Errorf("%w: %s is empty", ErrCorruptState, s.path)
	}

	var decoded fileDocument
	if err := json.Unmarshal(data, &decoded); err != nil {
		return doc, fmt.Errorf("%w: %s: %w", ErrCorruptState, s.path, err)
	}
	if decoded.Version > fileFormatVersion {
		return doc, fmt.Errorf("%w: %s has unsupported version %d", ErrCorruptState, s.path, decoded.Version)
	}
	if decoded.Sources != nil {
		doc.Sources = decoded.Sources
	}
	return doc, nil
}

func (s *fileStore) writeLocked(doc fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}

	s.observeLocked()
	return nil
}

func (s *fileStore) currentStamp() fileStamp {
	info, err := os.Stat(s.path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{exists: true, size: info.Size(), modTime: info.ModTime()}
}

func (s *fileStore) observeLocked() {
	s.stamp = s.currentStamp()
	s.observed = true
}

// checkUnchangedLocked refuses to write over a file that another process
// replaced since this store last looked at it.
func (s *fileStore) checkUnchangedLocked() error {
	if !s.observed {
		return nil
	}
	now := s.currentStamp()
	if now.exists != s.stamp.exists || now.size != s.stamp.size || !now.modTime.Equal(s.stamp.modTime) {
		return fmt.Errorf("%w: %s was modified by another writer", ErrPersist, s.path)
	}
	return nil
}

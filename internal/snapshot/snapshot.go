// Package snapshot persists per-session simulation state so pending
// command deadlines survive a process restart.
//
// Each session is one file, msgpack-encoded and zstd-compressed, written to
// a temporary name and renamed into place.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/mission-engine/internal/command"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/model"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

const fileExt = ".msnap"

var (
	// ErrNotFound is returned when no snapshot exists for a session.
	ErrNotFound = errors.New("snapshot: not found")
	// ErrStale is returned when a save carries a sequence number at or
	// below the last one written for the session.
	ErrStale = errors.New("snapshot: stale sequence")
)

// Record is the persisted state of one session.
type Record struct {
	Seq       uint64    `msgpack:"seq"`
	SessionID string    `msgpack:"session_id"`
	SavedAt   time.Time `msgpack:"saved_at"`

	Elements model.OrbitalElements `msgpack:"elements"`
	Stations []model.GroundStation `msgpack:"stations"`
	Steps    []model.Step          `msgpack:"steps"`
	Profiles command.Profiles      `msgpack:"profiles"`

	Clock          timectrl.ClockState   `msgpack:"clock"`
	Commands       []model.QueuedCommand `msgpack:"commands"`
	Metrics        model.SessionMetrics  `msgpack:"metrics"`
	CompletedSteps []string              `msgpack:"completed_steps"`
	Telemetry      model.Telemetry       `msgpack:"telemetry"`
	LastBeacon     *model.BeaconEvent    `msgpack:"last_beacon"`
	StepActivated  time.Time             `msgpack:"step_activated"`
}

// Encode writes rec to w as zstd-compressed msgpack.
func Encode(w io.Writer, rec Record) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("snapshot: create zstd writer: %w", err)
	}
	defer zw.Close()

	if err := msgpack.NewEncoder(zw).Encode(&rec); err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", rec.SessionID, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("snapshot: close zstd writer: %w", err)
	}
	return nil
}

// Decode reads a record written by Encode.
func Decode(r io.Reader) (Record, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Record{}, fmt.Errorf("snapshot: create zstd reader: %w", err)
	}
	defer zr.Close()

	var rec Record
	if err := msgpack.NewDecoder(zr).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return rec, nil
}

// Store keeps one snapshot file per session under a directory.
type Store struct {
	dir string
	log logging.Logger

	mu   sync.Mutex
	last map[string]uint64
}

// NewStore creates dir if needed.
func NewStore(dir string, log logging.Logger) (*Store, error) {
	if dir == "" {
		return nil, model.NewConfigError("snapshot.dir", "directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", dir, err)
	}
	return &Store{dir: dir, log: logging.OrNoop(log), last: make(map[string]uint64)}, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+fileExt)
}

// Save writes rec atomically. Saves are applied in sequence order per
// session; an older or repeated sequence returns ErrStale.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.SessionID == "" || strings.ContainsAny(rec.SessionID, `/\`) {
		return model.NewConfigError("session_id", fmt.Sprintf("unusable session id %q", rec.SessionID), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.last[rec.SessionID]; ok && rec.Seq <= last {
		return fmt.Errorf("%w: %s seq %d <= %d", ErrStale, rec.SessionID, rec.Seq, last)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, rec); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, rec.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path(rec.SessionID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: rename: %w", err)
	}

	s.last[rec.SessionID] = rec.Seq
	s.log.Debug(logging.ContextWithSessionID(ctx, rec.SessionID), "snapshot saved",
		logging.Int("seq", int(rec.Seq)),
		logging.Int("bytes", buf.Len()),
		logging.Int("commands", len(rec.Commands)),
	)
	return nil
}

// Load reads the snapshot for sessionID.
func (s *Store) Load(sessionID string) (Record, error) {
	f, err := os.Open(s.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()

	rec, err := Decode(f)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	if rec.Seq > s.last[sessionID] {
		s.last[sessionID] = rec.Seq
	}
	s.mu.Unlock()
	return rec, nil
}

// LastSeq returns the highest sequence written for sessionID, reading the
// file on disk when this store has not seen the session yet. A missing
// snapshot yields zero.
func (s *Store) LastSeq(sessionID string) (uint64, error) {
	s.mu.Lock()
	last, ok := s.last[sessionID]
	s.mu.Unlock()
	if ok {
		return last, nil
	}
	rec, err := s.Load(sessionID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

// Delete removes the snapshot for sessionID. Missing files are not an error.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	delete(s.last, sessionID)
	s.mu.Unlock()
	if err := os.Remove(s.path(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot: delete %s: %w", sessionID, err)
	}
	return nil
}

// List returns the session ids with a snapshot, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

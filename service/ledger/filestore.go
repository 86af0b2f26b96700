package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the ledger in a single JSON document with the keys
// trades, failedTrades, errors and latencyHistory. Every mutation rewrites
// the file through a temp file and rename.
type FileStore struct {
	mu         sync.Mutex
	path       string
	latencyCap int
	snap       Snapshot
}

// NewFileStore returns a store for path. latencyCap bounds the persisted
// latency history; <= 0 uses DefaultLatencyCapacity.
func NewFileStore(path string, latencyCap int) *FileStore {
	if latencyCap <= 0 {
		latencyCap = DefaultLatencyCapacity
	}
	return &FileStore{path: path, latencyCap: latencyCap}
}

// Path is the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the file. A missing file is an empty ledger; a malformed one
// is an error.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.snap = Snapshot{}
		return s.copySnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if n := len(snap.LatencyHistory); n > s.latencyCap {
		snap.LatencyHistory = snap.LatencyHistory[n-s.latencyCap:]
	}
	s.snap = snap
	return s.copySnapshot(), nil
}

func (s *FileStore) AppendTrade(ctx context.Context, t Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Trades = append(s.snap.Trades, t)
	return s.save()
}

func (s *FileStore) UpdateTrade(ctx context.Context, t Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Trades {
		if s.snap.Trades[i].ID == t.ID {
			s.snap.Trades[i] = t
			return s.save()
		}
	}
	return ErrNotFound
}

func (s *FileStore) AppendFailed(ctx context.Context, f FailedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.FailedTrades = append(s.snap.FailedTrades, f)
	return s.save()
}

func (s *FileStore) AppendError(ctx context.Context, e ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Errors = append(s.snap.Errors, e)
	return s.save()
}

func (s *FileStore) AppendLatency(ctx context.Context, sample LatencySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LatencyHistory = append(s.snap.LatencyHistory, sample)
	if n := len(s.snap.LatencyHistory); n > s.latencyCap {
		s.snap.LatencyHistory = append([]LatencySample(nil), s.snap.LatencyHistory[n-s.latencyCap:]...)
	}
	return s.save()
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) copySnapshot() *Snapshot {
	return &Snapshot{
		Trades:         append([]Trade(nil), s.snap.Trades...),
		FailedTrades:   append([]FailedTrade(nil), s.snap.FailedTrades...),
		Errors:         append([]ErrorRecord(nil), s.snap.Errors...),
		LatencyHistory: append([]LatencySample(nil), s.snap.LatencyHistory...),
	}
}

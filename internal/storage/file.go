package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "ctimer/pkg/logx"
)

// fileStore appends cycles to <prefix>.cycles.jsonl.
//
// The most recent records are mirrored in memory for Recent. Once the file
// holds twice the retention, it is rewritten with only the retained tail.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	path   string
	f      *os.File
	retain int
	lines  int
	recent []CycleRecord // oldest first, at most retain
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	cyclesPath := filepath.Join(dir, base) + ".cycles.jsonl"

	st := &fileStore{log: log, path: cyclesPath, retain: cfg.retain()}
	if err := st.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(cyclesPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.f = f
	return st, nil
}

// replay loads the retained tail of the journal. Corrupt lines are skipped.
func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	skipped := 0
	for sc.Scan() {
		s.lines++
		var r CycleRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Timer == "" {
			skipped++
			continue
		}
		s.push(r)
	}
	if skipped > 0 {
		s.log.Warn("journal replay skipped corrupt lines", logx.String("path", s.path), logx.Int("skipped", skipped))
	}
	return sc.Err()
}

func (s *fileStore) push(r CycleRecord) {
	s.recent = append(s.recent, r)
	if len(s.recent) > s.retain {
		s.recent = append(s.recent[:0:0], s.recent[len(s.recent)-s.retain:]...)
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendCycle(ctx context.Context, r CycleRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.push(r)
	s.lines++
	if s.lines >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(ctx context.Context, timer string, limit int) ([]CycleRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	out := make([]CycleRecord, 0, min(limit, len(s.recent)))
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if timer == "" || s.recent[i].Timer == timer {
			out = append(out, s.recent[i])
		}
	}
	return out, nil
}

// compactLocked rewrites the journal with the in-memory tail.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range s.recent {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.lines = len(s.recent)
	return nil
}

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
	"time"

	logx "jiranotify/pkg/logx"
)

// journal is an append-only JSON Lines file.
type journal struct {
	path string
	f    *os.File
}

func openJournal(path string) (*journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &journal{path: path, f: f}, nil
}

// append writes recs as one buffered batch.
func (j *journal) append(recs ...any) error {
	if j == nil || j.f == nil {
		return errors.New("journal closed")
	}
	w := bufio.NewWriter(j.f)
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (j *journal) close() error {
	if j == nil || j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// fileStore keeps state in two journals sharing the prefix of Path:
// <prefix>.seen.jsonl and <prefix>.audit.jsonl.
type fileStore struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	ids   *journal
	audit *journal
}

type seenRecord struct {
	ID string `json:"id"`
	At int64  `json:"at"` // unix milli
}

func journalPrefix(path string) string {
	base := filepath.Base(path)
	return filepath.Join(filepath.Dir(path), strings.TrimSuffix(base, filepath.Ext(base)))
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	prefix := journalPrefix(path)
	if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{seen: map[string]struct{}{}}
	seenPath := prefix + ".seen.jsonl"
	if err := s.replay(seenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("seen journal replay incomplete", logx.String("path", seenPath), logx.Err(err))
	}

	var err error
	if s.ids, err = openJournal(seenPath); err != nil {
		return nil, err
	}
	if s.audit, err = openJournal(prefix + ".audit.jsonl"); err != nil {
		_ = s.ids.close()
		return nil, err
	}
	log.Info("file storage opened", logx.String("prefix", prefix), logx.Int("seen", len(s.seen)))
	return s, nil
}

// replay loads ids from a seen journal. Unparseable lines (a torn tail
// after a crash) are skipped.
func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r seenRecord
		if json.Unmarshal(sc.Bytes(), &r) == nil && r.ID != "" {
			s.seen[r.ID] = struct{}{}
		}
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.ids.close(), s.audit.close())
}

func (s *fileStore) LoadSeen(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.seen))
	for id := range s.seen {
		out = append(out, id)
	}
	return out, nil
}

func (s *fileStore) AddSeen(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	var recs []any
	batch := map[string]struct{}{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		_, known := s.seen[id]
		_, dup := batch[id]
		if id == "" || known || dup {
			continue
		}
		batch[id] = struct{}{}
		recs = append(recs, seenRecord{ID: id, At: now})
	}
	if len(recs) == 0 {
		return nil
	}
	if err := s.ids.append(recs...); err != nil {
		return err
	}
	for id := range batch {
		s.seen[id] = struct{}{}
	}
	return nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit.append(e)
}

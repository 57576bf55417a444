package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/martinemde/agentd/llm"
)

// FileStore keeps one JSON file per session under a state directory. The
// in-memory cache is an optimization only; disk is the source of truth and
// every mutator writes the file before returning. Files are indented JSON
// with RFC 3339 timestamps so an operator can read them directly.
type FileStore struct {
	mu         sync.Mutex
	dir        string
	byID       map[string]*Session
	byChatKey  map[string]string
	maxHistory int
}

// NewFileStore opens (creating if needed) the state directory and loads
// every existing session file into the cache.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	fs := &FileStore{
		dir:        dir,
		byID:       make(map[string]*Session),
		byChatKey:  make(map[string]string),
		maxHistory: DefaultMaxHistory,
	}
	if err := fs.loadAll(); err != nil {
		return nil, err
	}
	return fs, nil
}

// SetMaxHistory overrides the history cap. Zero disables trimming.
func (f *FileStore) SetMaxHistory(n int) { f.maxHistory = n }

func (f *FileStore) loadAll() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("read session dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read session file %s: %w", e.Name(), err)
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			// A corrupt file must not take the whole store down.
			continue
		}
		if s.ID == "" {
			continue
		}
		f.byID[s.ID] = &s
		if s.ChatKey != "" {
			f.byChatKey[s.ChatKey] = s.ID
		}
	}
	return nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// persist writes the session file atomically via a temp file and rename.
func (f *FileStore) persist(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	tmp := f.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	if err := os.Rename(tmp, f.path(s.ID)); err != nil {
		return fmt.Errorf("commit session %s: %w", s.ID, err)
	}
	return nil
}

func (f *FileStore) GetOrCreate(ctx context.Context, chatKey, userID, workspaceRoot string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byChatKey[chatKey]; ok {
		return f.byID[id].Clone(), nil
	}
	s := New(chatKey, userID, workspaceRoot)
	if err := f.persist(s); err != nil {
		return nil, err
	}
	f.byID[s.ID] = s
	f.byChatKey[chatKey] = s.ID
	return s.Clone(), nil
}

func (f *FileStore) Get(ctx context.Context, id string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return s.Clone(), nil
}

func (f *FileStore) AppendMessage(ctx context.Context, id string, msg Message) error {
	return f.mutate(id, func(s *Session) {
		s.Messages = Trim(append(s.Messages, msg), f.maxHistory)
	})
}

func (f *FileStore) SetStatus(ctx context.Context, id string, status Status) error {
	return f.mutate(id, func(s *Session) { s.Status = status })
}

func (f *FileStore) AddUsage(ctx context.Context, id string, usage llm.Usage) error {
	return f.mutate(id, func(s *Session) { s.Usage = s.Usage.Add(usage) })
}

func (f *FileStore) SetCancelled(ctx context.Context, id string, cancelled bool) error {
	return f.mutate(id, func(s *Session) { s.Cancelled = cancelled })
}

func (f *FileStore) Reset(ctx context.Context, id string) error {
	return f.mutate(id, func(s *Session) { s.Reset() })
}

func (f *FileStore) mutate(id string, fn func(*Session)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	// Apply to a copy first so a failed write leaves the cache matching disk.
	dup := s.Clone()
	fn(dup)
	dup.UpdatedAt = nowUTC()
	if err := f.persist(dup); err != nil {
		return err
	}
	*s = *dup
	return nil
}

// Package session persists run history under the .aiaim directory.
//
// Storage layout:
//
//	.aiaim/
//	├── index.json                  session index and chat bindings
//	├── shells.json                 shell-to-session bindings
//	└── <session-id>/
//	    ├── task.md                 original task content
//	    ├── todo.json               cross-iteration todo ledger
//	    ├── records.ndjson          append-only iteration records
//	    └── <YYYY_MM_DD_HH_mm_ss>.md   iteration transcripts
//
// The index and shell tables are whole-file JSON documents rewritten
// atomically on every mutation. Sessions are small and infrequent, so a
// database would buy nothing here.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veictry/aiaim/internal/checksum"
	"github.com/veictry/aiaim/internal/fsutil"
)

// DirName is the state directory aiaim keeps in the workspace root.
const DirName = ".aiaim"

// Filenames inside the state directory and each session directory.
const (
	indexFile   = "index.json"
	shellsFile  = "shells.json"
	taskFile    = "task.md"
	todoFile    = "todo.json"
	recordsFile = "records.ndjson"
)

// ErrNotFound reports a session ID with no index entry.
var ErrNotFound = fmt.Errorf("session not found")

// Info is one session index entry.
type Info struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"agent_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	InitialPrompt  string    `json:"initial_prompt"`
	Workspace      string    `json:"workspace"`
	IterationCount int       `json:"iteration_count"`
	TaskChecksum   string    `json:"task_checksum,omitempty"`
}

type index struct {
	Sessions []Info `json:"sessions"`
}

// shellBinding maps one shell to its most recent session and, when set, a
// locked session that overrides session resolution for that shell.
type shellBinding struct {
	SessionID       string    `json:"session_id"`
	LockedSessionID string    `json:"locked_session_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type shellTable struct {
	Shells map[string]shellBinding `json:"shells"`
}

// Stats summarizes the stored state.
type Stats struct {
	Sessions   int `json:"sessions"`
	Iterations int `json:"iterations"`
	Shells     int `json:"shell_sessions"`
}

// Store manages the .aiaim directory for one workspace.
//
// The mutex serializes read-modify-write cycles on the index and shell
// tables within this process. Cross-process writers rely on the atomic
// rename in fsutil keeping both files internally consistent.
type Store struct {
	root string
	mu   sync.Mutex
}

// Open ensures the state directory exists and returns a store for it.
// Safe to call repeatedly.
func Open(workspace string) (*Store, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		workspace = wd
	}

	root := filepath.Join(workspace, DirName)
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", root, err)
	}

	return &Store{root: root}, nil
}

// Root returns the absolute path of the state directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory holding a session's files.
func (s *Store) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// TaskPath returns the path of a session's task file.
func (s *Store) TaskPath(sessionID string) string {
	return filepath.Join(s.Dir(sessionID), taskFile)
}

// TodoPath returns the path of a session's todo ledger.
func (s *Store) TodoPath(sessionID string) string {
	return filepath.Join(s.Dir(sessionID), todoFile)
}

// RecordsPath returns the path of a session's iteration record log.
func (s *Store) RecordsPath(sessionID string) string {
	return filepath.Join(s.Dir(sessionID), recordsFile)
}

// NewSessionID mints a sortable unique session identifier.
func NewSessionID() string {
	ts := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("sess-%s-%s", ts, uuid.NewString()[:8])
}

// Create registers a new session, writes its task file and returns the
// index entry. chatID may be empty and bound later via BindChatID.
func (s *Store) Create(initialPrompt, chatID string) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := []byte(fmt.Sprintf("# Task\n\n%s\n", initialPrompt))

	info := Info{
		ID:            NewSessionID(),
		ChatID:        chatID,
		CreatedAt:     time.Now().UTC(),
		InitialPrompt: initialPrompt,
		Workspace:     filepath.Dir(s.root),
		TaskChecksum:  checksum.SHA256Bytes(task),
	}

	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	idx.Sessions = append(idx.Sessions, info)
	if err := s.saveIndex(idx); err != nil {
		return nil, err
	}

	dir := s.Dir(info.ID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	if err := fsutil.AtomicWrite(s.TaskPath(info.ID), task); err != nil {
		return nil, fmt.Errorf("failed to write task file: %w", err)
	}

	return &info, nil
}

// Get returns the index entry for a session ID.
func (s *Store) Get(sessionID string) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == sessionID {
			info := idx.Sessions[i]
			return &info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
}

// Exists reports whether a session ID is registered.
func (s *Store) Exists(sessionID string) bool {
	_, err := s.Get(sessionID)
	return err == nil
}

// BindChatID records the backend chat bound to a session so later runs
// can resume the same conversation.
func (s *Store) BindChatID(sessionID, chatID string) error {
	return s.update(sessionID, func(info *Info) {
		info.ChatID = chatID
	})
}

// IncrementIterations bumps a session's completed-iteration counter.
func (s *Store) IncrementIterations(sessionID string) error {
	return s.update(sessionID, func(info *Info) {
		info.IterationCount++
	})
}

func (s *Store) update(sessionID string, mutate func(*Info)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == sessionID {
			mutate(&idx.Sessions[i])
			return s.saveIndex(idx)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
}

// List returns sessions newest first. limit <= 0 means no limit.
func (s *Store) List(limit, offset int) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	out := make([]Info, len(idx.Sessions))
	copy(out, idx.Sessions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Search returns sessions whose initial prompt contains the query,
// case-insensitively, newest first.
func (s *Store) Search(query string, limit int) ([]Info, error) {
	all, err := s.List(0, 0)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var out []Info
	for _, info := range all {
		if strings.Contains(strings.ToLower(info.InitialPrompt), needle) {
			out = append(out, info)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ReadTask returns the stored task content for a session.
func (s *Store) ReadTask(sessionID string) (string, error) {
	data, err := os.ReadFile(s.TaskPath(sessionID))
	if err != nil {
		return "", fmt.Errorf("failed to read task file: %w", err)
	}
	return string(data), nil
}

// TaskDrift reports whether a session's task file no longer matches the
// checksum recorded at creation, meaning someone edited task.md by hand.
// Sessions indexed before checksums were recorded never report drift.
func (s *Store) TaskDrift(sessionID string) (bool, error) {
	info, err := s.Get(sessionID)
	if err != nil {
		return false, err
	}
	if info.TaskChecksum == "" {
		return false, nil
	}
	current, err := checksum.SHA256File(s.TaskPath(sessionID))
	if err != nil {
		return false, fmt.Errorf("failed to checksum task file: %w", err)
	}
	return current != info.TaskChecksum, nil
}

// Stats summarizes the index and shell tables.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return Stats{}, err
	}
	shells, err := s.loadShells()
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Sessions: len(idx.Sessions), Shells: len(shells.Shells)}
	for _, info := range idx.Sessions {
		st.Iterations += info.IterationCount
	}
	return st, nil
}

// LastSessionID returns the most recent session used from a shell, or ""
// when the shell has none.
func (s *Store) LastSessionID(shellID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shells, err := s.loadShells()
	if err != nil {
		return "", err
	}
	return shells.Shells[shellID].SessionID, nil
}

// SetLastSession remembers the session a shell just used. An existing
// lock on the shell is preserved.
func (s *Store) SetLastSession(shellID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shells, err := s.loadShells()
	if err != nil {
		return err
	}
	b := shells.Shells[shellID]
	b.SessionID = sessionID
	b.UpdatedAt = time.Now().UTC()
	shells.Shells[shellID] = b
	return s.saveShells(shells)
}

// LockedSessionID returns the session a shell is locked to, or "" when
// the shell is unlocked.
func (s *Store) LockedSessionID(shellID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shells, err := s.loadShells()
	if err != nil {
		return "", err
	}
	return shells.Shells[shellID].LockedSessionID, nil
}

// Lock pins a shell to a session. Subsequent runs from that shell reuse
// the locked session until Unlock.
func (s *Store) Lock(shellID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shells, err := s.loadShells()
	if err != nil {
		return err
	}
	b := shells.Shells[shellID]
	if b.SessionID == "" {
		b.SessionID = sessionID
	}
	b.LockedSessionID = sessionID
	b.UpdatedAt = time.Now().UTC()
	shells.Shells[shellID] = b
	return s.saveShells(shells)
}

// Unlock releases a shell's session lock and returns the previously
// locked session ID, or "" when the shell was not locked.
func (s *Store) Unlock(shellID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shells, err := s.loadShells()
	if err != nil {
		return "", err
	}
	b, ok := shells.Shells[shellID]
	if !ok || b.LockedSessionID == "" {
		return "", nil
	}
	prev := b.LockedSessionID
	b.LockedSessionID = ""
	b.UpdatedAt = time.Now().UTC()
	shells.Shells[shellID] = b
	return prev, s.saveShells(shells)
}

// PruneShells drops bindings whose shell is gone. alive reports whether a
// shell identifier still refers to a live shell; bindings it rejects are
// removed. Returns the number of bindings dropped.
func (s *Store) PruneShells(alive func(shellID string) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shells, err := s.loadShells()
	if err != nil {
		return 0, err
	}

	removed := 0
	for id := range shells.Shells {
		if !alive(id) {
			delete(shells.Shells, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveShells(shells)
}

func (s *Store) loadIndex() (*index, error) {
	var idx index
	err := fsutil.ReadJSON(filepath.Join(s.root, indexFile), &idx)
	if os.IsNotExist(err) {
		return &index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session index: %w", err)
	}
	return &idx, nil
}

func (s *Store) saveIndex(idx *index) error {
	if err := fsutil.AtomicWriteJSON(filepath.Join(s.root, indexFile), idx); err != nil {
		return fmt.Errorf("failed to save session index: %w", err)
	}
	return nil
}

func (s *Store) loadShells() (*shellTable, error) {
	var tbl shellTable
	err := fsutil.ReadJSON(filepath.Join(s.root, shellsFile), &tbl)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load shell bindings: %w", err)
	}
	if tbl.Shells == nil {
		tbl.Shells = make(map[string]shellBinding)
	}
	return &tbl, nil
}

func (s *Store) saveShells(tbl *shellTable) error {
	if err := fsutil.AtomicWriteJSON(filepath.Join(s.root, shellsFile), tbl); err != nil {
		return fmt.Errorf("failed to save shell bindings: %w", err)
	}
	return nil
}

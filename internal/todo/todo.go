// Package todo maintains the ledger of work items that survives across
// iterations. The ledger, not any single verdict, is the source of truth for
// what has been accomplished: verdicts are folded into it and it feeds the
// next supervisor prompt, which keeps settled items settled and prompt sizes
// bounded as a run progresses.
package todo

import (
	"fmt"
	"os"

	"github.com/veictry/aiaim/internal/fsutil"
	"github.com/veictry/aiaim/internal/verdict"
)

// Item is one unit of work. Identity is exact content equality; no
// normalization is applied.
type Item struct {
	Content   string `json:"content"`
	Completed bool   `json:"completed"`
}

// Ledger is the ordered collection of items for one session. Entries are
// appended, never removed, and a completed entry is never reverted.
type Ledger struct {
	Task  string `json:"task"`
	Items []Item `json:"items"`
}

// Reconcile folds a verdict into the ledger. Each pending string not already
// present is appended as a new open item. Each newly completed string then
// marks the first matching entry as completed; strings with no matching entry
// are ignored. Additions run before completion matching so that applying the
// same verdict twice is a no-op the second time, even when a verdict names the
// same string as both pending and newly completed. Returns how many items were
// marked completed and how many were added.
func (l *Ledger) Reconcile(v verdict.Verdict) (completed, added int) {
	for _, content := range v.PendingItems {
		if !l.contains(content) {
			l.Items = append(l.Items, Item{Content: content})
			added++
		}
	}

	for _, content := range v.NewlyCompleted {
		for i := range l.Items {
			if l.Items[i].Content == content {
				if !l.Items[i].Completed {
					l.Items[i].Completed = true
					completed++
				}
				break
			}
		}
	}

	return completed, added
}

func (l *Ledger) contains(content string) bool {
	for i := range l.Items {
		if l.Items[i].Content == content {
			return true
		}
	}
	return false
}

// Pending returns the contents of all open items in ledger order.
func (l *Ledger) Pending() []string {
	var out []string
	for i := range l.Items {
		if !l.Items[i].Completed {
			out = append(out, l.Items[i].Content)
		}
	}
	return out
}

// Completed returns the contents of all completed items in ledger order.
func (l *Ledger) Completed() []string {
	var out []string
	for i := range l.Items {
		if l.Items[i].Completed {
			out = append(out, l.Items[i].Content)
		}
	}
	return out
}

// Counts reports how many items are open and how many are done.
func (l *Ledger) Counts() (pending, completed int) {
	for i := range l.Items {
		if l.Items[i].Completed {
			completed++
		} else {
			pending++
		}
	}
	return pending, completed
}

// Store loads and saves ledgers.
type Store interface {
	Load() (*Ledger, error)
	Save(*Ledger) error
}

// FileStore persists the ledger as JSON at a fixed path. Saves are atomic so
// readers never observe a partial ledger.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the ledger, returning an empty one when the file does not exist.
func (s *FileStore) Load() (*Ledger, error) {
	var l Ledger
	if err := fsutil.ReadJSON(s.path, &l); err != nil {
		if os.IsNotExist(err) {
			return &Ledger{}, nil
		}
		return nil, fmt.Errorf("load todo ledger: %w", err)
	}
	return &l, nil
}

func (s *FileStore) Save(l *Ledger) error {
	if err := fsutil.AtomicWriteJSON(s.path, l); err != nil {
		return fmt.Errorf("save todo ledger: %w", err)
	}
	return nil
}

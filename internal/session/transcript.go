package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TranscriptWriter streams one iteration's activity into a timestamped
// markdown file inside the session directory. The file is created up
// front and flushed per write so a reader can tail a run in progress.
type TranscriptWriter struct {
	store     *Store
	sessionID string
	path      string
	file      *os.File
	closed    bool
}

// NewTranscript creates the iteration transcript file and writes its
// header. Close finalizes the file and bumps the session's iteration
// count.
func (s *Store) NewTranscript(sessionID string, iteration int) (*TranscriptWriter, error) {
	dir := s.Dir(sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	now := time.Now()
	path, file, err := createTranscriptFile(dir, now)
	if err != nil {
		return nil, err
	}

	w := &TranscriptWriter{
		store:     s,
		sessionID: sessionID,
		path:      path,
		file:      file,
	}

	header := fmt.Sprintf("# Iteration %d - %s\n\n", iteration, now.Format("2006-01-02 15:04:05"))
	if err := w.Write(header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

// createTranscriptFile opens a file named after the wall clock second.
// Two transcripts within the same second get numeric suffixes instead of
// clobbering each other.
func createTranscriptFile(dir string, now time.Time) (string, *os.File, error) {
	base := now.Format("2006_01_02_15_04_05")
	for i := 0; ; i++ {
		name := base + ".md"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.md", base, i)
		}
		path := filepath.Join(dir, name)

		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			return path, file, nil
		}
		if !os.IsExist(err) {
			return "", nil, fmt.Errorf("failed to create transcript file %s: %w", path, err)
		}
	}
}

// Path returns the transcript file location.
func (w *TranscriptWriter) Path() string { return w.path }

// Write appends content to the transcript. Writes after Close are
// silently dropped.
func (w *TranscriptWriter) Write(content string) error {
	if w.closed {
		return nil
	}
	if _, err := w.file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return w.file.Sync()
}

// WriteSection appends a titled markdown section.
func (w *TranscriptWriter) WriteSection(title, content string) error {
	return w.Write(fmt.Sprintf("\n## %s\n\n%s\n", title, content))
}

// Close finalizes the transcript and increments the session's iteration
// counter. Idempotent.
func (w *TranscriptWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close transcript: %w", err)
	}
	return w.store.IncrementIterations(w.sessionID)
}

package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/veictry/aiaim/internal/ndjson"
	"github.com/veictry/aiaim/internal/runner"
)

// RecordLog appends iteration records to a session's NDJSON log. Records
// from resumed runs land in the same file, so the log is the complete
// per-iteration history of a session.
type RecordLog struct {
	file    *os.File
	encoder *ndjson.Encoder
	mu      sync.Mutex
}

// OpenRecordLog opens a session's record log for appending, creating the
// file and its directory as needed.
func OpenRecordLog(path string, logger *zap.Logger) (*RecordLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create record log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open record log: %w", err)
	}

	return &RecordLog{
		file:    file,
		encoder: ndjson.NewEncoder(file, logger),
	}, nil
}

// Append writes one record as a single JSON line.
func (l *RecordLog) Append(rec runner.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(rec)
}

// Close closes the underlying file.
func (l *RecordLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadRecords loads every well-formed record from a session log. A
// missing file yields no records. Reading stops at the first malformed
// line: a crash mid-append can leave a torn tail, and everything before
// it is still good history.
func ReadRecords(path string, logger *zap.Logger) ([]runner.Record, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open record log: %w", err)
	}
	defer file.Close()

	dec := ndjson.NewDecoder(file, logger)
	var records []runner.Record
	for {
		var rec runner.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			logger.Warn("record log has a malformed line; ignoring the rest",
				zap.String("path", path),
				zap.Int("records_kept", len(records)),
				zap.Error(err))
			return records, nil
		}
		records = append(records, rec)
	}
}

// ContinueState derives where a resumed run should pick up: the next
// iteration number and the pending items the last verdict left open.
// A session with no records starts at iteration 1 with nothing pending.
func ContinueState(path string, logger *zap.Logger) (nextIteration int, pending []string, err error) {
	records, err := ReadRecords(path, logger)
	if err != nil {
		return 0, nil, err
	}
	if len(records) == 0 {
		return 1, nil, nil
	}

	last := records[len(records)-1]
	if last.Supervisor != nil {
		pending = last.Supervisor.PendingItems
	}
	return last.Iteration + 1, pending, nil
}

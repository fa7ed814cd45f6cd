package ndjson

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type testRecord struct {
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Pending   []string  `json:"pending,omitempty"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := zap.NewNop()

	encoder := NewEncoder(&buf, logger)
	decoder := NewDecoder(&buf, logger)

	records := []testRecord{
		{Iteration: 1, Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), Pending: []string{"add tests"}},
		{Iteration: 2, Timestamp: time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)},
	}

	for _, r := range records {
		if err := encoder.Encode(r); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}

	// One line per record
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	for i, want := range records {
		var got testRecord
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode() record %d error = %v", i, err)
		}
		if got.Iteration != want.Iteration {
			t.Errorf("record %d iteration = %d, want %d", i, got.Iteration, want.Iteration)
		}
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("record %d timestamp = %v, want %v", i, got.Timestamp, want.Timestamp)
		}
	}

	var extra testRecord
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("expected io.EOF after last record, got %v", err)
	}
}

func TestDecodeSkipsEmptyLines(t *testing.T) {
	input := "{\"iteration\":1,\"timestamp\":\"2025-06-01T10:00:00Z\"}\n\n\n{\"iteration\":2,\"timestamp\":\"2025-06-01T10:05:00Z\"}\n"
	decoder := NewDecoder(strings.NewReader(input), zap.NewNop())

	var first, second testRecord
	if err := decoder.Decode(&first); err != nil {
		t.Fatalf("Decode() first error = %v", err)
	}
	if err := decoder.Decode(&second); err != nil {
		t.Fatalf("Decode() second error = %v", err)
	}
	if first.Iteration != 1 || second.Iteration != 2 {
		t.Errorf("got iterations %d, %d; want 1, 2", first.Iteration, second.Iteration)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	decoder := NewDecoder(strings.NewReader("{broken\n"), zap.NewNop())

	var r testRecord
	err := decoder.Decode(&r)
	if err == nil || err == io.EOF {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestEncodeSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf, zap.NewNop())

	huge := testRecord{
		Iteration: 1,
		Pending:   []string{strings.Repeat("x", MaxMessageSize)},
	}
	if err := encoder.Encode(huge); err == nil {
		t.Error("expected size limit error")
	}
	if buf.Len() != 0 {
		t.Errorf("oversized message partially written: %d bytes", buf.Len())
	}
}

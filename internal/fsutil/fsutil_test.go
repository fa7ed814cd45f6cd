package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		data    []byte
		wantErr bool
	}{
		{
			name:    "write to new file",
			path:    filepath.Join(tmpDir, "new.json"),
			data:    []byte(`{"ok":true}`),
			wantErr: false,
		},
		{
			name:    "overwrite existing file",
			path:    filepath.Join(tmpDir, "existing.json"),
			data:    []byte("updated content"),
			wantErr: false,
		},
		{
			name:    "write empty file",
			path:    filepath.Join(tmpDir, "empty.txt"),
			data:    []byte{},
			wantErr: false,
		},
		{
			name:    "write to nested directory",
			path:    filepath.Join(tmpDir, "sessions", "abc", "todo.json"),
			data:    []byte("nested content"),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "overwrite existing file" {
				if err := os.WriteFile(tt.path, []byte("original"), 0600); err != nil {
					t.Fatalf("failed to create initial file: %v", err)
				}
			}

			err := AtomicWrite(tt.path, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("AtomicWrite() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			content, err := os.ReadFile(tt.path)
			if err != nil {
				t.Errorf("failed to read written file: %v", err)
				return
			}
			if string(content) != string(tt.data) {
				t.Errorf("file content = %q, want %q", string(content), string(tt.data))
			}

			info, err := os.Stat(tt.path)
			if err != nil {
				t.Errorf("failed to stat file: %v", err)
				return
			}
			if mode := info.Mode().Perm(); mode != 0600 {
				t.Errorf("file permissions = %o, want 0600", mode)
			}
		})
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")

	if err := AtomicWrite(path, []byte("data")); err != nil {
		t.Fatalf("AtomicWrite() error = %v", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestAtomicWriteJSON(t *testing.T) {
	tmpDir := t.TempDir()

	type record struct {
		Iteration int      `json:"iteration"`
		Pending   []string `json:"pending"`
	}

	path := filepath.Join(tmpDir, "record.json")
	in := record{Iteration: 3, Pending: []string{"write docs", "fix tests"}}

	if err := AtomicWriteJSON(path, in); err != nil {
		t.Fatalf("AtomicWriteJSON() error = %v", err)
	}

	var out record
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if out.Iteration != in.Iteration || len(out.Pending) != 2 || out.Pending[0] != "write docs" {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}

	// Pretty-printed output ends with a newline
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("JSON output missing trailing newline")
	}
	if !strings.Contains(string(data), "  \"iteration\"") {
		t.Error("JSON output not indented")
	}
}

func TestAtomicWriteJSONNil(t *testing.T) {
	tmpDir := t.TempDir()
	if err := AtomicWriteJSON(filepath.Join(tmpDir, "nil.json"), nil); err == nil {
		t.Error("expected error for nil value")
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var v map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	if !os.IsNotExist(err) {
		t.Errorf("expected os.IsNotExist error, got %v", err)
	}
}

func TestReadJSONInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var v map[string]any
	if err := ReadJSON(path, &v); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

package checksum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSHA256Bytes(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "empty",
			input:    []byte{},
			expected: "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "hello world",
			input:    []byte("hello world"),
			expected: "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
		{
			name:     "json object",
			input:    []byte(`{"key":"value"}`),
			expected: "sha256:e43abcf3375244839c012f9633f95862d232a95b00d5bc7348b3098b9fed7f32",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SHA256Bytes(tt.input)
			if result != tt.expected {
				t.Errorf("SHA256Bytes() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSHA256File(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "task.md")
	content := []byte("hello world")
	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	hash, err := SHA256File(testFile)
	if err != nil {
		t.Fatalf("SHA256File() error = %v", err)
	}

	expected := "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if hash != expected {
		t.Errorf("SHA256File() = %v, want %v", hash, expected)
	}

	// File and bytes variants agree
	if got := SHA256Bytes(content); got != hash {
		t.Errorf("SHA256Bytes() = %v, want %v", got, hash)
	}

	// Missing file reports an error
	if _, err := SHA256File(filepath.Join(tmpDir, "missing.md")); err == nil {
		t.Error("SHA256File() expected error for missing file")
	}
}

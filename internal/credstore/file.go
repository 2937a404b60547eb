package credstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileSource reads a credential from a local file. The file must be
// owner-only (0600); anything looser is refused rather than silently used.
type FileSource struct {
	filePath string
}

// Compile-time check to ensure FileSource implements Source
var _ Source = (*FileSource)(nil)

// NewFileSource creates a FileSource for the given path.
func NewFileSource(filePath string) (*FileSource, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	return &FileSource{
		filePath: filePath,
	}, nil
}

// Read returns the credential after trimming whitespace. Returns error if
// the file doesn't exist, is empty, or has insecure permissions.
func (f *FileSource) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if err != nil {
		return "", err
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("empty credential file %s", f.filePath)
	}
	return value, nil
}

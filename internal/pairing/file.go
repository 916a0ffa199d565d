package pairing

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes the latest artifact PNG to a fixed path for operators who
// want to scan it straight from disk. Nothing in the bridge reads it back.
type FileSink struct {
	path string
}

// NewFileSink returns a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the destination file.
func (s *FileSink) Path() string {
	return s.path
}

// Store replaces the file with a's PNG. The write goes through a temp file
// and a rename so readers never see a half-written image.
func (s *FileSink) Store(a *Artifact) error {
	if a == nil || len(a.PNG) == 0 {
		return fmt.Errorf("artifact has no image")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create qr dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".qr-*.png")
	if err != nil {
		return fmt.Errorf("create temp qr file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(a.PNG); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write qr file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close qr file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("chmod qr file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename qr file: %w", err)
	}
	return nil
}

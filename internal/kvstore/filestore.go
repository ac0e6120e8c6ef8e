package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileStore persists each key as a file under a base directory. Writes are
// atomic (temp file plus rename) so a concurrent reader in another process
// never observes a torn value. The directory is the unit shared across
// processes; Watch surfaces external writes via fsnotify.
type FileStore struct {
	dir string
}

// NewFileStore prepares the base directory and returns a file-backed store.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("kvstore: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("kvstore: resolve directory: %w", err)
	}
	if err = os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("kvstore: create directory: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

// Dir returns the base directory holding the stored values.
func (s *FileStore) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Read returns the value stored under key.
func (s *FileStore) Read(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kvstore: read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Write stores value under key using an atomic replace.
func (s *FileStore) Write(_ context.Context, key, value string) error {
	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".kv-*")
	if err != nil {
		return fmt.Errorf("kvstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: write %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: chmod %s: %w", key, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: replace %s: %w", key, err)
	}
	return nil
}

// Remove deletes the value stored under key.
func (s *FileStore) Remove(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("kvstore: remove %s: %w", key, err)
	}
	return nil
}

// Watch invokes onChange with the affected key whenever another writer
// creates, modifies, or removes a value in the base directory. It blocks
// until ctx is cancelled or the watcher fails.
func (s *FileStore) Watch(ctx context.Context, onChange func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("kvstore: create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	if err = watcher.Add(s.dir); err != nil {
		return fmt.Errorf("kvstore: watch %s: %w", s.dir, err)
	}
	log.Debugf("kvstore: watching directory %s", s.dir)

	relevant := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if event.Op&relevant == 0 || strings.HasPrefix(name, ".kv-") {
				continue
			}
			if key, ok2 := keyFromFileName(name); ok2 && onChange != nil {
				onChange(key)
			}
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("kvstore: watcher error: %v", errWatch)
		}
	}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, encodeKey(key)+".kv")
}

// encodeKey maps an arbitrary key onto a safe file name. Alphanumerics,
// dash, underscore, and dot pass through; everything else is percent
// encoded so distinct keys never collide.
func encodeKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func keyFromFileName(name string) (string, bool) {
	encoded, ok := strings.CutSuffix(name, ".kv")
	if !ok {
		return "", false
	}
	var b strings.Builder
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c == '%' && i+2 < len(encoded) {
			var decoded byte
			if _, err := fmt.Sscanf(encoded[i+1:i+3], "%02X", &decoded); err == nil {
				b.WriteByte(decoded)
				i += 2
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String(), true
}

package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNoSavedSession is returned by FileStore.Load when nothing is saved.
var ErrNoSavedSession = errors.New("no saved session")

// FileStore persists credentials as a 0600 JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path)}
}

// Path returns the file location.
func (f *FileStore) Path() string { return f.path }

// Load reads saved credentials.
func (f *FileStore) Load() (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, ErrNoSavedSession
	}
	if err != nil {
		return Credentials{}, err
	}
	if len(b) == 0 {
		return Credentials{}, ErrNoSavedSession
	}
	var creds Credentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Save writes creds atomically (temp file + rename).
func (f *FileStore) Save(creds Credentials) error {
	b, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

// Clear removes the file. A missing file is not an error.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Watch calls onChange whenever another process rewrites or removes the
// file, until ctx is done. Bursts of events are coalesced over debounce.
// onChange receives ok=false when the file is gone.
func (f *FileStore) Watch(ctx context.Context, log *slog.Logger, debounce time.Duration, onChange func(creds Credentials, ok bool)) error {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	// Watch the directory: Save replaces the file by rename.
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return err
	}

	fire := func() {
		creds, err := f.Load()
		switch {
		case errors.Is(err, ErrNoSavedSession):
			onChange(Credentials{}, false)
		case err != nil:
			log.Warn("authclient.session_file.read.fail", "path", f.path, "err", err)
		default:
			onChange(creds, true)
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if debounce <= 0 {
			go fire()
			return
		}
		if timer == nil {
			timer = time.AfterFunc(debounce, fire)
			return
		}
		timer.Reset(debounce)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Debug("authclient.session_file.watch.error", "err", err)
		}
	}
}
